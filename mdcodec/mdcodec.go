// Package mdcodec converts call metadata between its JSON multi-map form
// ({"key": ["v1", "v2"], "other": "v"}) and grpc metadata.
package mdcodec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"golang.org/x/net/http2/hpack"
	"google.golang.org/grpc/metadata"

	"github.com/ozontech/grpcq/consts"
	"github.com/ozontech/grpcq/utils/lru"
)

var (
	ErrInvalidKey     = errors.New("invalid metadata key")
	ErrReservedKey    = errors.New("reserved metadata key")
	ErrHeaderTooLarge = errors.New("metadata exceeds max header list size")
)

type Codec struct {
	keys              *lru.LRU[string]
	maxHeaderListSize uint32
}

type Option func(*Codec)

// WithMaxHeaderListSize limits the hpack size of parsed metadata. 0 disables the check.
func WithMaxHeaderListSize(n uint32) Option {
	return func(c *Codec) { c.maxHeaderListSize = n }
}

func New(opts ...Option) *Codec {
	c := &Codec{
		keys:              lru.New(consts.DefaultLRUSize, strings.ToLower),
		maxHeaderListSize: consts.DefaultMaxHeaderListSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Parse decodes the JSON multi-map. A value is a string or an array of
// strings; other JSON values are skipped. Empty input means no metadata.
func (c *Codec) Parse(data []byte) (metadata.MD, error) {
	md := metadata.MD{}
	if len(data) == 0 {
		return md, nil
	}

	in := jlexer.Lexer{Data: data}
	in.Delim('{')
	for !in.IsDelim('}') {
		rawKey := in.UnsafeBytes()
		in.WantColon()
		if !in.Ok() {
			break
		}
		key := c.keys.GetOrAdd(rawKey)

		switch v := in.Interface().(type) {
		case string:
			md[key] = append(md[key], v)
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					md[key] = append(md[key], s)
				}
			}
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()
	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("parse metadata json: %w", err)
	}

	if err := c.Validate(md); err != nil {
		return nil, err
	}
	return md, nil
}

// Validate checks key syntax and the total header list size.
func (c *Codec) Validate(md metadata.MD) error {
	for k := range md {
		if err := validKey(k); err != nil {
			return err
		}
	}
	if c.maxHeaderListSize > 0 {
		if size := HeaderListSize(md); size > c.maxHeaderListSize {
			return fmt.Errorf("%w: %d > %d", ErrHeaderTooLarge, size, c.maxHeaderListSize)
		}
	}
	return nil
}

func validKey(k string) error {
	if k == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(k, "grpc-") || strings.HasPrefix(k, ":") {
		return fmt.Errorf("%w: %q", ErrReservedKey, k)
	}
	for i := 0; i < len(k); i++ {
		ch := k[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_', ch == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, k)
		}
	}
	return nil
}

// HeaderListSize is the SETTINGS_MAX_HEADER_LIST_SIZE accounting of md.
func HeaderListSize(md metadata.MD) uint32 {
	var size uint32
	for k, vs := range md {
		for _, v := range vs {
			size += hpack.HeaderField{Name: k, Value: v}.Size()
		}
	}
	return size
}

// Serialize encodes md as a JSON multi-map with sorted keys.
func (c *Codec) Serialize(md metadata.MD) []byte {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := jwriter.Writer{}
	w.RawByte('{')
	for i, k := range keys {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(k)
		w.RawString(":[")
		for j, v := range md[k] {
			if j > 0 {
				w.RawByte(',')
			}
			w.String(v)
		}
		w.RawByte(']')
	}
	w.RawByte('}')
	b, _ := w.BuildBytes()
	return b
}

// Outgoing attaches md to ctx as outgoing call metadata, keeping what ctx
// already carries.
func Outgoing(ctx context.Context, md metadata.MD) context.Context {
	if md.Len() == 0 {
		return ctx
	}
	if prev, ok := metadata.FromOutgoingContext(ctx); ok {
		md = metadata.Join(prev, md)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
