package client

import (
	"context"
	"sync/atomic"

	"github.com/ozontech/grpcq/engine/call"
)

// Unary is the pending result of an asynchronous unary call.
type Unary struct {
	id        string
	method    string
	call      atomic.Pointer[call.UnaryCall]
	cancelled atomic.Bool

	// пишутся до close(done)
	resp []byte
	err  error
	done chan struct{}
}

func (u *Unary) CallID() string        { return u.id }
func (u *Unary) Method() string        { return u.method }
func (u *Unary) Done() <-chan struct{} { return u.done }
func (u *Unary) Cancelled() bool       { return u.cancelled.Load() }

// Result is valid once Done is closed. A successful call without a response
// message yields an empty non-nil slice.
func (u *Unary) Result() ([]byte, error) {
	<-u.done
	return u.resp, u.err
}

func (u *Unary) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-u.done:
		return u.resp, u.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel is idempotent. The call resolves with Canceled unless it already
// finished.
func (u *Unary) Cancel() {
	u.cancelled.Store(true)
	if uc := u.call.Load(); uc != nil {
		uc.Cancel()
	}
}

func (u *Unary) bind(uc *call.UnaryCall) {
	u.call.Store(uc)
	if u.cancelled.Load() {
		uc.Cancel()
	}
}

func (u *Unary) abandon() {
	u.cancelled.Store(true)
	if uc := u.call.Load(); uc != nil {
		uc.Abandon()
	}
}

// Stream is a streaming call registered in the client.
type Stream struct {
	*call.Stream
	id string
}

// CallID is the identifier accepted by Client.CancelCall.
func (s *Stream) CallID() string { return s.id }
