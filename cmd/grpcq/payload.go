package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// Output is where commands print received items and reports.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer
}

type PayloadFlags struct {
	Data     []string `short:"d" sep:"none" help:"Message payload. Repeat for several messages."`
	DataFile []string `sep:"none" type:"existingfile" help:"Read a message payload from a file. Repeat for several messages."`
	Hex      bool     `help:"--data values are hex encoded."`
	Format   string   `enum:"quote,hex,raw" default:"quote" help:"How received items are printed: ${enum}."`
}

func (f *PayloadFlags) messages() ([][]byte, error) {
	msgs := make([][]byte, 0, len(f.Data)+len(f.DataFile))
	for _, d := range f.Data {
		if !f.Hex {
			msgs = append(msgs, []byte(d))
			continue
		}
		b, err := hex.DecodeString(d)
		if err != nil {
			return nil, fmt.Errorf("decode --data %q: %w", d, err)
		}
		msgs = append(msgs, b)
	}
	for _, path := range f.DataFile {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		msgs = append(msgs, b)
	}
	return msgs, nil
}

// first returns the single request of unary and server stream calls.
func (f *PayloadFlags) first() ([]byte, error) {
	msgs, err := f.messages()
	if err != nil || len(msgs) == 0 {
		return []byte{}, err
	}
	return msgs[0], nil
}

// printer сериализует вывод элементов из колбэков разных вызовов.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func (p *printer) item(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case "raw":
		_, _ = p.w.Write(b)
		_, _ = io.WriteString(p.w, "\n")
	case "hex":
		_, _ = io.WriteString(p.w, hex.EncodeToString(b)+"\n")
	default:
		_, _ = io.WriteString(p.w, strconv.Quote(string(b))+"\n")
	}
}
