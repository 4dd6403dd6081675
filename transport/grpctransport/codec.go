package grpctransport

import (
	"bytes"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodec passes payloads through untouched. It announces itself as "proto"
// so the content-type stays application/grpc+proto and any server accepts it:
// the payload bytes are already encoded by the caller.
type rawCodec struct{}

var _ encoding.Codec = rawCodec{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case *[]byte:
		return *m, nil
	default:
		return nil, fmt.Errorf("raw codec: unsupported message type %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: unsupported message type %T", v)
	}
	// буфер data может переиспользоваться grpc
	*m = bytes.Clone(data)
	if *m == nil {
		*m = []byte{}
	}
	return nil
}

func (rawCodec) Name() string { return "proto" }

// Codec returns the pass-through codec, e.g. for grpc.ForceServerCodec in tests
// and tools that serve opaque payloads.
func Codec() encoding.Codec { return rawCodec{} }
