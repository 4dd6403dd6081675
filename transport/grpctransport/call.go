package grpctransport

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ozontech/grpcq/consts"
	"github.com/ozontech/grpcq/engine/types"
)

var duplexDesc = grpc.StreamDesc{
	StreamName:    "duplex",
	ClientStreams: true,
	ServerStreams: true,
}

type op struct {
	tag     types.Tag
	payload []byte
}

// call is the generic duplex call over grpc-go. Send-side operations (start,
// write, half-close) run on the sender goroutine, receive-side ones (read,
// finish) on the receiver goroutine. Each completion is pushed to q.
type call struct {
	d      *Dialer
	method string
	q      types.CompletionQueue
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group

	startOnce sync.Once
	ready     chan struct{} // закрыт после попытки NewStream
	stream    grpc.ClientStream
	sendOps   chan op
	recvOps   chan op

	mu       sync.Mutex
	closed   bool // воркеры вышли, операции обслуживаются на месте
	received []byte
	header   metadata.MD
	recvErr  error
	st       *status.Status
	trailer  metadata.MD
}

func newCall(ctx context.Context, d *Dialer, method string, q types.CompletionQueue) *call {
	ctx, cancel := context.WithCancel(ctx)
	return &call{
		d:       d,
		method:  method,
		q:       q,
		log:     d.log.With(zap.String("method", method)),
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		sendOps: make(chan op, consts.TransportOpsBuffer),
		recvOps: make(chan op, consts.TransportOpsBuffer),
	}
}

func (c *call) StartCall(tag types.Tag) {
	c.startOnce.Do(func() {
		c.g.Go(func() error { return c.sendLoop(tag) })
		c.g.Go(c.recvLoop)
	})
}

func (c *call) Write(payload []byte, tag types.Tag) { c.submit(c.sendOps, op{tag, payload}) }
func (c *call) WritesDone(tag types.Tag)            { c.submit(c.sendOps, op{tag: tag}) }
func (c *call) Read(tag types.Tag)                  { c.submit(c.recvOps, op{tag: tag}) }
func (c *call) Finish(tag types.Tag)                { c.submit(c.recvOps, op{tag: tag}) }

func (c *call) submit(ch chan op, o op) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.serveClosed(o)
		return
	}
	// в полете не больше одной операции каждого вида, буфер не переполняется
	ch <- o
	c.mu.Unlock()
}

func (c *call) push(tag types.Tag, ok bool) {
	if ce := c.log.Check(zap.DebugLevel, "op done"); ce != nil {
		ce.Write(zap.Stringer("tag", tag), zap.Bool("ok", ok))
	}
	c.q.Push(tag, ok)
}

func (c *call) sendLoop(startTag types.Tag) error {
	defer c.shutdown(c.sendOps)

	stream, err := c.d.cc.NewStream(c.ctx, &duplexDesc, c.method, c.d.opts...)
	if err != nil {
		c.cancel()
	}
	c.mu.Lock()
	c.stream = stream
	if err != nil {
		c.st = status.Convert(err)
	}
	c.mu.Unlock()
	close(c.ready)
	c.push(startTag, err == nil)
	if err != nil {
		return nil
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case o := <-c.sendOps:
			var err error
			switch o.tag.Op {
			case types.OpWrite:
				err = stream.SendMsg(o.payload)
			case types.OpWritesDone:
				err = stream.CloseSend()
			default:
				c.log.Warn("unexpected send op", zap.Stringer("tag", o.tag))
				err = errUnexpectedOp
			}
			c.push(o.tag, err == nil)
		}
	}
}

func (c *call) recvLoop() error {
	defer c.shutdown(c.recvOps)

	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return nil
	}
	if c.stream == nil {
		return nil
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case o := <-c.recvOps:
			switch o.tag.Op {
			case types.OpRead:
				c.push(o.tag, c.recv())
			case types.OpFinish:
				c.finish()
				c.push(o.tag, true)
				// стрим завершен, отпускаем ресурсы и воркеры
				c.cancel()
			default:
				c.log.Warn("unexpected recv op", zap.Stringer("tag", o.tag))
				c.push(o.tag, false)
			}
		}
	}
}

func (c *call) recv() bool {
	var msg []byte
	err := c.stream.RecvMsg(&msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header == nil {
		if md, herr := c.stream.Header(); herr == nil {
			c.header = md
		} else {
			c.header = metadata.MD{}
		}
	}
	if err != nil {
		c.recvErr = err
		return false
	}
	c.received = msg
	return true
}

// finish drains the stream until its terminal status.
func (c *call) finish() {
	c.mu.Lock()
	err := c.recvErr
	c.mu.Unlock()

	for err == nil {
		var msg []byte
		err = c.stream.RecvMsg(&msg)
	}

	c.mu.Lock()
	c.recvErr = err
	c.st = statusFromRecv(err)
	c.trailer = c.stream.Trailer()
	c.mu.Unlock()
}

func statusFromRecv(err error) *status.Status {
	if errors.Is(err, io.EOF) {
		return status.New(codes.OK, "")
	}
	return status.Convert(err)
}

// shutdown switches the call to in-place serving and completes the ops still
// buffered in ch.
func (c *call) shutdown(ch chan op) {
	c.mu.Lock()
	c.closed = true
	var rest []op
	for drained := false; !drained; {
		select {
		case o := <-ch:
			rest = append(rest, o)
		default:
			drained = true
		}
	}
	c.mu.Unlock()

	for _, o := range rest {
		c.serveClosed(o)
	}
}

// serveClosed completes o once the workers are gone: data ops fail, Finish
// reports the status recorded so far or the context error.
func (c *call) serveClosed(o op) {
	if o.tag.Op != types.OpFinish {
		c.push(o.tag, false)
		return
	}
	c.mu.Lock()
	if c.st == nil {
		switch {
		case c.recvErr != nil:
			c.st = statusFromRecv(c.recvErr)
			if c.stream != nil {
				c.trailer = c.stream.Trailer()
			}
		case c.ctx.Err() != nil:
			c.st = status.FromContextError(c.ctx.Err())
		default:
			c.st = status.New(codes.Unknown, "call finished without status")
		}
	}
	c.mu.Unlock()
	c.push(o.tag, true)
}

func (c *call) Received() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.received
	c.received = nil
	return r
}

func (c *call) Header() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header
}

func (c *call) Status() (*status.Status, metadata.MD) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return status.New(codes.Unavailable, "call not started"), c.trailer
	}
	return c.st, c.trailer
}

func (c *call) Cancel() {
	c.log.Debug("cancel")
	c.cancel()
}

// Wait blocks until both workers have exited.
func (c *call) Wait() error {
	return c.g.Wait()
}

var errUnexpectedOp = errors.New("unexpected operation")
