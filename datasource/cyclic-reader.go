package datasource

import (
	"fmt"
	"io"
)

// CyclicReader replays a record file forever: on EOF it seeks back to the
// start. A lap that yields no bytes at all means the file is empty and ends
// with ErrEmpty instead of spinning.
type CyclicReader struct {
	rs      io.ReadSeeker
	lapRead int64
	laps    int
}

func NewCyclicReader(rs io.ReadSeeker) *CyclicReader {
	return &CyclicReader{rs: rs}
}

func (r *CyclicReader) Read(b []byte) (int, error) {
	n, err := r.rs.Read(b)
	r.lapRead += int64(n)
	switch {
	case err == nil:
		return n, nil
	case err != io.EOF:
		return n, fmt.Errorf("read requests: %w", err)
	case r.lapRead == 0:
		return n, ErrEmpty
	}

	if _, err := r.rs.Seek(0, io.SeekStart); err != nil {
		return n, fmt.Errorf("rewind requests: %w", err)
	}
	r.laps++
	r.lapRead = 0
	return n, nil
}

// Laps is how many times the file was rewound.
func (r *CyclicReader) Laps() int { return r.laps }
