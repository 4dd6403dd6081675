package datasource

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// FileDataSource reads records one by one. Wrap the file into a CyclicReader
// to repeat it.
type FileDataSource struct {
	mu      sync.Mutex
	r       *bufio.Reader
	maxSize uint64
}

func NewFileDataSource(r io.Reader, maxSize int) *FileDataSource {
	return &FileDataSource{r: bufio.NewReader(r), maxSize: uint64(maxSize)}
}

func (ds *FileDataSource) Fetch() ([]byte, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	size, err := binary.ReadUvarint(ds.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record length: %w", err)
	}
	if size > ds.maxSize {
		return nil, fmt.Errorf("record of %d bytes exceeds limit %d", size, ds.maxSize)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(ds.r, b); err != nil {
		return nil, fmt.Errorf("read record body: %w", err)
	}
	return b, nil
}
