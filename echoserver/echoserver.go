// Package echoserver is a schema-agnostic grpc server speaking opaque payloads.
// It backs the end-to-end tests and the echo-server CLI command.
package echoserver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ozontech/grpcq/transport/grpctransport"
)

// Поведение выбирается по последнему сегменту метода.
const (
	MethodSay     = "Say"     // unary: вернуть запрос как есть
	MethodStream  = "Stream"  // server stream: запрос - размеры ответов (SizesRequest)
	MethodCollect = "Collect" // client stream: ответ - склейка всех сообщений
	MethodChat    = "Chat"    // bidi: эхо каждого сообщения
	MethodFail    = "Fail"    // ответ NotFound с трейлером
	MethodHang    = "Hang"    // не отвечает, пока клиент не отменит вызов
)

const (
	HeaderMethod  = "x-echo-method"
	TrailerReason = "x-echo-reason"
)

// SizesRequest encodes the Stream request: field 1, repeated varint.
func SizesRequest(sizes ...int) []byte {
	var b []byte
	for _, s := range sizes {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s))
	}
	return b
}

func parseSizes(b []byte) ([]int, error) {
	var sizes []int
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 || typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		sizes = append(sizes, int(v))
	}
	return sizes, nil
}

type Server struct {
	srv *grpc.Server
	log *zap.Logger
}

func New(log *zap.Logger, opts ...grpc.ServerOption) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{log: log.Named("echo-server")}
	opts = append(opts,
		grpc.ForceServerCodec(grpctransport.Codec()),
		grpc.UnknownServiceHandler(s.handle),
	)
	s.srv = grpc.NewServer(opts...)
	return s
}

func (s *Server) Serve(l net.Listener) error { return s.srv.Serve(l) }
func (s *Server) GracefulStop()              { s.srv.GracefulStop() }
func (s *Server) Stop()                      { s.srv.Stop() }

func (s *Server) handle(_ any, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}
	s.log.Debug("call", zap.String("method", method))

	if err := stream.SendHeader(metadata.Pairs(HeaderMethod, method)); err != nil {
		return err
	}

	switch method[strings.LastIndexByte(method, '/')+1:] {
	case MethodSay:
		return s.say(stream)
	case MethodStream:
		return s.stream(stream)
	case MethodCollect:
		return s.collect(stream)
	case MethodChat:
		return s.chat(stream)
	case MethodFail:
		stream.SetTrailer(metadata.Pairs(TrailerReason, "requested"))
		return status.Error(codes.NotFound, "requested failure")
	case MethodHang:
		<-stream.Context().Done()
		return status.FromContextError(stream.Context().Err()).Err()
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

func (s *Server) say(stream grpc.ServerStream) error {
	var req []byte
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	return stream.SendMsg(req)
}

func (s *Server) stream(stream grpc.ServerStream) error {
	var req []byte
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	sizes, err := parseSizes(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "bad sizes request: %v", err)
	}
	for i, size := range sizes {
		item := make([]byte, size)
		for j := range item {
			item[j] = byte('a' + i%26)
		}
		if err := stream.SendMsg(item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) collect(stream grpc.ServerStream) error {
	var total []byte
	for {
		var msg []byte
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		total = append(total, msg...)
	}
	return stream.SendMsg(total)
}

func (s *Server) chat(stream grpc.ServerStream) error {
	for {
		var msg []byte
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
}
