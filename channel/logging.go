package channel

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

func unaryLogger(log *zap.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context, method string, req, reply any,
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
	) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		logDone(log, method, start, err)
		return err
	}
}

func streamLogger(log *zap.Logger) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn,
		method string, streamer grpc.Streamer, opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		start := time.Now()
		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			logDone(log, method, start, err)
			return nil, err
		}
		return &loggedStream{ClientStream: cs, log: log, method: method, start: start}, nil
	}
}

type loggedStream struct {
	grpc.ClientStream
	log    *zap.Logger
	method string
	start  time.Time
	done   bool
}

// RecvMsg is only called from one goroutine at a time, so done needs no lock.
func (s *loggedStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)
	if err != nil && !s.done {
		s.done = true
		final := err
		if errors.Is(err, io.EOF) {
			final = nil
		}
		logDone(s.log, s.method, s.start, final)
	}
	return err
}

func logDone(log *zap.Logger, method string, start time.Time, err error) {
	lvl := zapcore.DebugLevel
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	if ce := log.Check(lvl, "call finished"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	}
}
