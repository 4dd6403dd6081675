// Package datasource reads request payloads for repeated calls from a file of
// length-delimited records: every record is a protobuf varint length followed
// by that many payload bytes.
package datasource

import (
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrEmpty = errors.New("request file is empty")

type DataSource interface {
	// Fetch returns the next payload. The slice is owned by the caller.
	Fetch() ([]byte, error)
}

// AppendRecord appends payload as one record.
func AppendRecord(b, payload []byte) []byte {
	b = protowire.AppendVarint(b, uint64(len(payload)))
	return append(b, payload...)
}

// WriteRecords writes payloads to w in the record format.
func WriteRecords(w io.Writer, payloads ...[]byte) error {
	var b []byte
	for _, p := range payloads {
		b = AppendRecord(b, p)
	}
	_, err := w.Write(b)
	return err
}
