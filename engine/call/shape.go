package call

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ozontech/grpcq/rpcerr"
)

type Shape uint8

const (
	Unary Shape = iota
	ServerStream
	ClientStream
	BidiStream
)

func (s Shape) String() string {
	switch s {
	case Unary:
		return "unary"
	case ServerStream:
		return "server-stream"
	case ClientStream:
		return "client-stream"
	case BidiStream:
		return "bidi-stream"
	default:
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
}

// Status is the terminal outcome of a call.
type Status struct {
	Code    codes.Code
	Message string
	Trailer metadata.MD
}

func (s Status) OK() bool { return s.Code == codes.OK }

// Err returns nil for OK and *rpcerr.Error otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &rpcerr.Error{Code: s.Code, Message: s.Message, Metadata: s.Trailer}
}

func statusOf(st *status.Status, trailer metadata.MD) Status {
	if st == nil {
		return Status{Code: codes.Unknown, Message: "transport reported no status", Trailer: trailer}
	}
	return Status{Code: st.Code(), Message: st.Message(), Trailer: trailer}
}

var cancelledStatus = Status{Code: codes.Canceled, Message: "call cancelled"}
