package rpcerr

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Ошибки неправильного использования API. Возвращаются синхронно,
// транспорт при этом не трогается.
var (
	ErrWriteToServerStream = errors.New("write is not allowed on a server stream")
	ErrNotSyncMode         = errors.New("sync operation on a stream opened in async mode")
	ErrNotClientStream     = errors.New("finish is only allowed on a client stream")
	ErrStreamFinished      = errors.New("stream already finished")
	ErrObserversSealed     = errors.New("observers can not be changed after the first event")
	ErrChannelClosed       = errors.New("channel is closed")
	ErrNotPausable         = errors.New("pause/resume is only allowed on server and bidi streams")
	ErrNotStreamShape      = errors.New("unary shape can not be opened as a stream")

	// ErrWriteFailed resolves writes the transport could not complete.
	// The reason arrives with the terminal status.
	ErrWriteFailed = errors.New("write failed, see terminal status")
)

// Error is a terminal call failure: status code, message and the trailing
// metadata the server sent with it.
type Error struct {
	Code     codes.Code
	Message  string
	Metadata metadata.MD
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Code, e.Message)
}

// GRPCStatus makes status.FromError and status.Code work on *Error.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: codes.Canceled}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// FromStatus maps a terminal status and its trailer to an error.
// OK maps to nil.
func FromStatus(st *status.Status, trailer metadata.MD) error {
	if st == nil || st.Code() == codes.OK {
		return nil
	}
	return &Error{
		Code:     st.Code(),
		Message:  st.Message(),
		Metadata: trailer,
	}
}

// FromError converts any error returned by the transport into *Error.
// Context errors map onto Canceled and DeadlineExceeded.
func FromError(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Code: codes.Canceled, Message: err.Error(), Metadata: trailer}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: codes.DeadlineExceeded, Message: err.Error(), Metadata: trailer}
	}
	return FromStatus(status.Convert(err), trailer)
}

func New(code codes.Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code codes.Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
