package datasource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"google.golang.org/protobuf/encoding/protowire"
)

// InmemDataSource keeps every record in memory and hands them out in a cycle.
type InmemDataSource struct {
	i     atomic.Int64
	datas [][]byte
}

// NewInmemDataSource reads the whole of r.
func NewInmemDataSource(r io.Reader) (*InmemDataSource, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	ds := &InmemDataSource{}
	for len(b) > 0 {
		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("record %d: %w", len(ds.datas), protowire.ParseError(n))
		}
		ds.datas = append(ds.datas, payload)
		b = b[n:]
	}
	if len(ds.datas) == 0 {
		return nil, ErrEmpty
	}
	return ds, nil
}

// NewInmemPayloads cycles over the given payloads.
func NewInmemPayloads(payloads ...[]byte) (*InmemDataSource, error) {
	if len(payloads) == 0 {
		return nil, errors.New("no payloads")
	}
	return &InmemDataSource{datas: payloads}, nil
}

func (ds *InmemDataSource) Len() int { return len(ds.datas) }

func (ds *InmemDataSource) Fetch() ([]byte, error) {
	i := ds.i.Add(1) - 1
	return bytes.Clone(ds.datas[i%int64(len(ds.datas))]), nil
}
