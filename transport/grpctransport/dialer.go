package grpctransport

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ozontech/grpcq/engine/types"
)

// Dialer prepares schema-agnostic calls on a grpc connection.
type Dialer struct {
	cc   grpc.ClientConnInterface
	opts []grpc.CallOption
	log  *zap.Logger
}

var (
	_ types.Dialer  = (*Dialer)(nil)
	_ types.Invoker = (*Dialer)(nil)
)

// NewDialer wraps cc. opts are applied to every call in addition to the raw
// codec (per-call compression, credentials and so on).
func NewDialer(cc grpc.ClientConnInterface, log *zap.Logger, opts ...grpc.CallOption) *Dialer {
	if log == nil {
		log = zap.NewNop()
	}
	callOpts := make([]grpc.CallOption, 0, len(opts)+1)
	callOpts = append(callOpts, grpc.ForceCodec(rawCodec{}))
	callOpts = append(callOpts, opts...)
	return &Dialer{
		cc:   cc,
		opts: callOpts,
		log:  log.Named("transport"),
	}
}

func (d *Dialer) PrepareCall(ctx context.Context, method string, q types.CompletionQueue) types.Call {
	return newCall(ctx, d, method, q)
}

// Invoke performs a blocking unary call.
func (d *Dialer) Invoke(ctx context.Context, method string, request []byte) ([]byte, metadata.MD, error) {
	var (
		response []byte
		trailer  metadata.MD
	)
	opts := append(d.opts[:len(d.opts):len(d.opts)], grpc.Trailer(&trailer))
	err := d.cc.Invoke(ctx, method, request, &response, opts...)
	if err != nil {
		d.log.Debug("invoke failed", zap.String("method", method), zap.Error(err))
		return nil, trailer, err
	}
	if response == nil {
		response = []byte{}
	}
	return response, trailer, nil
}
