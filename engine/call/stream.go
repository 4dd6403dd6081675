package call

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ozontech/grpcq/consts"
	"github.com/ozontech/grpcq/engine/cq"
	"github.com/ozontech/grpcq/engine/flowcontrol"
	"github.com/ozontech/grpcq/engine/inbox"
	"github.com/ozontech/grpcq/engine/pump"
	"github.com/ozontech/grpcq/engine/types"
	"github.com/ozontech/grpcq/rpcerr"
)

type halfCloseState uint8

const (
	halfNone halfCloseState = iota
	halfRequested
	halfSubmitted
	halfDone
)

type Options struct {
	// Sync routes received items into the inbound buffer (ReadSync/FinishSync)
	// instead of OnData. Fixed for the lifetime of the stream.
	Sync          bool
	Observers     Observers
	HighWaterMark int
	Log           *zap.Logger
}

// Stream is the state machine of one server, client or bidi streaming call.
// Each stream owns its completion queue and pump.
type Stream struct {
	shape  Shape
	method string
	sync   bool
	id     uint32
	pump   *pump.Pump
	tr     types.Call
	inbox  *inbox.Inbox
	log    *zap.Logger

	cancelled atomic.Bool

	// всё ниже под mu
	mu          sync.Mutex
	obs         Observers
	sealed      bool
	started     bool
	finishing   bool
	headerSeen  bool
	writes      *flowcontrol.Writes
	reads       flowcontrol.Reads
	half        halfCloseState
	halfErr     error
	halfWaiters []chan<- error
	idleWaiters []chan struct{}
	final       *Status

	done chan struct{}
}

// OpenStream prepares a streaming call on d and submits StartCall. request is
// the single client message of a server stream and is ignored otherwise.
// ctx carries the deadline and outgoing metadata of the call.
func OpenStream(ctx context.Context, d types.Dialer, shape Shape, method string, request []byte, opts Options) (*Stream, error) {
	if shape == Unary {
		return nil, rpcerr.ErrNotStreamShape
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = consts.HighWaterMark
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	s := &Stream{
		shape:  shape,
		method: method,
		sync:   opts.Sync,
		obs:    opts.Observers,
		writes: flowcontrol.NewWrites(opts.HighWaterMark),
		done:   make(chan struct{}),
	}
	if s.sync {
		s.inbox = inbox.New()
	}
	if shape == ServerStream {
		s.writes.Enqueue(flowcontrol.PendingWrite{Payload: bytes.Clone(request)})
	}

	s.pump = pump.New(cq.New(), log)
	s.id = s.pump.Register(s)
	s.log = log.Named("call").With(
		zap.Uint32("call-id", s.id),
		zap.String("method", method),
		zap.Stringer("shape", shape),
	)
	s.tr = d.PrepareCall(ctx, method, s.pump.Queue())

	go s.watch()
	s.tr.StartCall(s.tag(types.OpStart))
	return s, nil
}

func (s *Stream) ID() uint32     { return s.id }
func (s *Stream) Method() string { return s.method }
func (s *Stream) Shape() Shape   { return s.shape }
func (s *Stream) SyncMode() bool { return s.sync }
func (s *Stream) tag(op types.Op) types.Tag {
	return types.Tag{CallID: s.id, Op: op}
}

// Proceed is called by the pump for every completed operation of this stream.
func (s *Stream) Proceed(op types.Op, ok bool) {
	if ce := s.log.Check(zap.DebugLevel, "proceed"); ce != nil {
		ce.Write(zap.Stringer("op", op), zap.Bool("ok", ok))
	}
	switch op {
	case types.OpStart:
		s.onStart(ok)
	case types.OpWrite:
		s.onWrite(ok)
	case types.OpWritesDone:
		s.onWritesDone(ok)
	case types.OpRead:
		s.onRead(ok)
	case types.OpFinish:
		s.terminate(statusOf(s.tr.Status()))
	default:
		s.log.Warn("unexpected op", zap.Stringer("op", op))
	}
}

func (s *Stream) onStart(ok bool) {
	if !ok {
		// StartCall не удался: дальше машина не двигается, статус уже известен транспорту
		s.terminate(statusOf(s.tr.Status()))
		return
	}

	s.mu.Lock()
	s.started = true
	write := s.writes.Release()
	halfClose := false
	if s.shape != ServerStream && s.half == halfRequested && !s.writesBusyLocked() {
		s.half = halfSubmitted
		halfClose = true
	}
	read := false
	if s.shape != ServerStream {
		read = s.reads.Enable()
	}
	s.mu.Unlock()

	if write != nil {
		s.tr.Write(write.Payload, s.tag(types.OpWrite))
	}
	if halfClose {
		s.tr.WritesDone(s.tag(types.OpWritesDone))
	}
	if read {
		s.tr.Read(s.tag(types.OpRead))
	}
}

func (s *Stream) onWrite(ok bool) {
	if s.shape == ServerStream {
		s.mu.Lock()
		s.writes.Completed(nil)
		s.half = halfSubmitted
		s.mu.Unlock()
		if ok {
			s.tr.WritesDone(s.tag(types.OpWritesDone))
		} else {
			s.submitFinish()
		}
		return
	}

	s.mu.Lock()
	var next *flowcontrol.PendingWrite
	if ok {
		next = s.writes.Completed(nil)
	} else {
		// поток сломан: остальные записи тоже не пройдут
		s.writes.Abort(rpcerr.ErrWriteFailed)
	}
	halfClose := false
	if next == nil {
		s.releaseIdleLocked()
		if s.half == halfRequested {
			s.half = halfSubmitted
			halfClose = true
		}
	}
	s.mu.Unlock()

	if next != nil {
		s.tr.Write(next.Payload, s.tag(types.OpWrite))
	}
	if halfClose {
		s.tr.WritesDone(s.tag(types.OpWritesDone))
	}
}

func (s *Stream) onWritesDone(ok bool) {
	var err error
	if !ok {
		err = rpcerr.ErrWriteFailed
	}
	s.mu.Lock()
	s.resolveHalfCloseLocked(err)
	read := false
	if s.shape == ServerStream && ok {
		read = s.reads.Enable()
	}
	s.mu.Unlock()

	switch {
	case read:
		s.tr.Read(s.tag(types.OpRead))
	case s.shape == ServerStream && !ok:
		s.submitFinish()
	}
}

func (s *Stream) onRead(ok bool) {
	obs := s.sealObservers()

	s.mu.Lock()
	first := !s.headerSeen
	s.headerSeen = true
	s.mu.Unlock()

	if first && obs.OnMetadata != nil {
		if md := s.tr.Header(); md.Len() > 0 {
			obs.OnMetadata(md)
		}
	}
	if ok {
		s.deliver(obs, s.tr.Received())
	}

	// клиентский поток ждет ровно один ответ
	more := ok && s.shape != ClientStream
	s.mu.Lock()
	rearm := s.reads.Completed(more) && !s.cancelled.Load()
	s.mu.Unlock()

	switch {
	case rearm:
		s.tr.Read(s.tag(types.OpRead))
	case !more:
		s.submitFinish()
	}
}

func (s *Stream) deliver(obs Observers, item []byte) {
	if s.sync {
		if !s.inbox.Push(item) {
			s.log.Debug("item dropped, inbox closed", zap.Int("size", len(item)))
		}
		return
	}
	if obs.OnData != nil {
		obs.OnData(item)
	}
}

func (s *Stream) submitFinish() {
	s.mu.Lock()
	if s.finishing {
		s.mu.Unlock()
		return
	}
	s.finishing = true
	s.mu.Unlock()
	s.tr.Finish(s.tag(types.OpFinish))
}

// terminate delivers the terminal status exactly once.
func (s *Stream) terminate(st Status) {
	s.mu.Lock()
	if s.final != nil {
		s.mu.Unlock()
		return
	}
	s.final = &st
	s.sealed = true
	s.reads.Stop()
	abortErr := st.Err()
	if abortErr == nil {
		abortErr = rpcerr.ErrStreamFinished
	}
	s.writes.Abort(abortErr)
	s.resolveHalfCloseLocked(abortErr)
	s.releaseIdleLocked()
	obs := s.obs
	s.mu.Unlock()

	s.log.Debug("terminal status", zap.Stringer("code", st.Code), zap.String("message", st.Message))

	if s.inbox != nil {
		s.inbox.Close()
	}
	s.pump.Unregister(s.id)
	s.pump.Shutdown()

	if obs.OnStatus != nil {
		obs.OnStatus(st)
	}
	if err := st.Err(); err != nil && obs.OnError != nil {
		obs.OnError(err)
	}
	close(s.done)
}

// watch covers the case when the pump stops before the transport's own
// terminal status was dispatched (cancellation).
func (s *Stream) watch() {
	<-s.pump.Done()
	s.terminate(cancelledStatus)
}

func (s *Stream) resolveHalfCloseLocked(err error) {
	if s.half == halfDone {
		return
	}
	if s.half != halfNone {
		s.half = halfDone
		s.halfErr = err
	}
	for _, w := range s.halfWaiters {
		w <- err
	}
	s.halfWaiters = nil
}

func (s *Stream) writesBusyLocked() bool {
	return s.writes.InFlight() || s.writes.Len() > 0
}

func (s *Stream) releaseIdleLocked() {
	if s.writesBusyLocked() && s.final == nil && !s.cancelled.Load() {
		return
	}
	for _, w := range s.idleWaiters {
		close(w)
	}
	s.idleWaiters = nil
}

// Write enqueues payload for transmission and submits it right away if no
// write is in flight. The returned bool is false when the pending queue had
// already reached the high-water mark; the payload is queued anyway.
func (s *Stream) Write(payload []byte) (bool, error) {
	next, accepted, err := s.enqueue(payload, nil)
	if err != nil {
		return false, err
	}
	if next != nil {
		s.tr.Write(next.Payload, s.tag(types.OpWrite))
	}
	return accepted, nil
}

func (s *Stream) enqueue(payload []byte, done chan<- error) (*flowcontrol.PendingWrite, bool, error) {
	if s.shape == ServerStream {
		return nil, false, rpcerr.ErrWriteToServerStream
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil || s.cancelled.Load() || s.half != halfNone {
		return nil, false, rpcerr.ErrStreamFinished
	}
	next, accepted := s.writes.Enqueue(flowcontrol.PendingWrite{
		Payload: bytes.Clone(payload),
		Done:    done,
	})
	return next, accepted, nil
}

// WritesDone half-closes the stream once every queued write has been
// acknowledged. Writes after it fail with ErrStreamFinished.
func (s *Stream) WritesDone() error {
	submit, err := s.requestHalfClose(nil)
	if err != nil {
		return err
	}
	if submit {
		s.tr.WritesDone(s.tag(types.OpWritesDone))
	}
	return nil
}

func (s *Stream) requestHalfClose(waiter chan<- error) (bool, error) {
	if s.shape == ServerStream {
		return false, rpcerr.ErrWriteToServerStream
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil || s.cancelled.Load() {
		return false, rpcerr.ErrStreamFinished
	}
	switch s.half {
	case halfDone:
		if waiter != nil {
			waiter <- s.halfErr
		}
		return false, nil
	case halfRequested, halfSubmitted:
		if waiter != nil {
			s.halfWaiters = append(s.halfWaiters, waiter)
		}
		return false, nil
	}
	if waiter != nil {
		s.halfWaiters = append(s.halfWaiters, waiter)
	}
	if !s.started || s.writesBusyLocked() {
		s.half = halfRequested
		return false, nil
	}
	s.half = halfSubmitted
	return true, nil
}

// Pause stops re-arming reads after the current one completes.
func (s *Stream) Pause() error {
	if s.shape == ClientStream {
		return rpcerr.ErrNotPausable
	}
	s.mu.Lock()
	s.reads.Pause()
	s.mu.Unlock()
	return nil
}

// Resume clears the pause and arms exactly one read if none is pending.
func (s *Stream) Resume() error {
	if s.shape == ClientStream {
		return rpcerr.ErrNotPausable
	}
	s.mu.Lock()
	arm := s.reads.Resume() && !s.cancelled.Load()
	s.mu.Unlock()
	if arm {
		s.tr.Read(s.tag(types.OpRead))
	}
	return nil
}

func (s *Stream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads.Paused()
}

// Cancel is idempotent and safe from any goroutine. It cancels the transport
// call, stops the pump and releases every sync waiter.
func (s *Stream) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.log.Debug("cancel")
	s.tr.Cancel()
	s.pump.Shutdown()

	errCancelled := cancelledStatus.Err()
	s.mu.Lock()
	s.reads.Stop()
	s.writes.Abort(errCancelled)
	s.resolveHalfCloseLocked(errCancelled)
	s.releaseIdleLocked()
	s.mu.Unlock()

	if s.inbox != nil {
		s.inbox.Close()
	}
}

func (s *Stream) Cancelled() bool { return s.cancelled.Load() }

// Done is closed after the terminal status has been delivered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Status returns the terminal status once Done is closed.
func (s *Stream) Status() (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return Status{}, false
	}
	return *s.final, true
}

// Close cancels the stream if it is not terminal yet and waits until the pump
// and the transport have released it.
func (s *Stream) Close(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		s.Cancel()
	}

	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	err = multierr.Append(err, s.pump.Wait(ctx))
	err = multierr.Append(err, s.tr.Wait())
	return err
}
