package call

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ozontech/grpcq/engine/pump"
	"github.com/ozontech/grpcq/engine/types"
)

// UnaryCall drives one request/response call through the five-step
// Start -> Write -> WritesDone -> Read -> Finish sequence on a shared pump.
type UnaryCall struct {
	id      uint32
	method  string
	pump    *pump.Pump
	tr      types.Call
	request []byte
	log     *zap.Logger

	cancelled atomic.Bool

	mu       sync.Mutex
	response []byte
	finished bool
	err      error
	onDone   func(resp []byte, err error)

	done chan struct{}
}

// StartUnary registers a unary call on p and submits StartCall.
// onDone, if set, is invoked once with the outcome on the pump goroutine.
func StartUnary(ctx context.Context, d types.Dialer, p *pump.Pump, method string, request []byte,
	onDone func(resp []byte, err error), log *zap.Logger,
) *UnaryCall {
	if log == nil {
		log = zap.NewNop()
	}
	u := &UnaryCall{
		method:  method,
		pump:    p,
		request: bytes.Clone(request),
		onDone:  onDone,
		done:    make(chan struct{}),
	}
	u.id = p.Register(u)
	u.log = log.Named("call").With(
		zap.Uint32("call-id", u.id),
		zap.String("method", method),
		zap.Stringer("shape", Unary),
	)
	u.tr = d.PrepareCall(ctx, method, p.Queue())
	u.tr.StartCall(u.tag(types.OpStart))
	return u
}

func (u *UnaryCall) ID() uint32     { return u.id }
func (u *UnaryCall) Method() string { return u.method }

func (u *UnaryCall) tag(op types.Op) types.Tag {
	return types.Tag{CallID: u.id, Op: op}
}

func (u *UnaryCall) Proceed(op types.Op, ok bool) {
	if ce := u.log.Check(zap.DebugLevel, "proceed"); ce != nil {
		ce.Write(zap.Stringer("op", op), zap.Bool("ok", ok))
	}
	switch op {
	case types.OpStart:
		if !ok {
			// фатально, Finish не отправляем
			u.complete(statusOf(u.tr.Status()))
			return
		}
		u.tr.Write(u.request, u.tag(types.OpWrite))
	case types.OpWrite:
		if !ok {
			u.tr.Finish(u.tag(types.OpFinish))
			return
		}
		u.tr.WritesDone(u.tag(types.OpWritesDone))
	case types.OpWritesDone:
		if !ok {
			u.tr.Finish(u.tag(types.OpFinish))
			return
		}
		u.tr.Read(u.tag(types.OpRead))
	case types.OpRead:
		// ok=false это конец потока без ответа; итог решает статус
		if ok {
			u.mu.Lock()
			u.response = append(u.response, u.tr.Received()...)
			u.mu.Unlock()
		}
		u.tr.Finish(u.tag(types.OpFinish))
	case types.OpFinish:
		u.complete(statusOf(u.tr.Status()))
	default:
		u.log.Warn("unexpected op", zap.Stringer("op", op))
	}
}

func (u *UnaryCall) complete(st Status) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.finished = true
	u.err = st.Err()
	if u.err != nil {
		u.response = nil
	} else if u.response == nil {
		u.response = []byte{}
	}
	resp, err, onDone := u.response, u.err, u.onDone
	u.mu.Unlock()

	u.log.Debug("terminal status", zap.Stringer("code", st.Code), zap.String("message", st.Message))
	u.pump.Unregister(u.id)
	if onDone != nil {
		onDone(resp, err)
	}
	close(u.done)
}

// Cancel is idempotent. The transport then fails the call and the terminal
// Canceled status flows through the regular Finish path.
func (u *UnaryCall) Cancel() {
	if !u.cancelled.CompareAndSwap(false, true) {
		return
	}
	u.log.Debug("cancel")
	u.tr.Cancel()
}

// Abandon resolves the call with Canceled without waiting for the transport.
// Used when the shared pump is going away under a live call.
func (u *UnaryCall) Abandon() {
	u.Cancel()
	u.complete(cancelledStatus)
}

func (u *UnaryCall) Done() <-chan struct{} { return u.done }

// Result is valid once Done is closed.
func (u *UnaryCall) Result() ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.response, u.err
}

// Wait blocks until the call is terminal or ctx is done.
func (u *UnaryCall) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-u.done:
		return u.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release waits for the transport to let go of the call.
func (u *UnaryCall) Release() error {
	<-u.done
	return u.tr.Wait()
}
