// Package client is the public surface of the engine: unary calls, stream
// openers and the live-call registry on top of one channel.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"

	"github.com/ozontech/grpcq/channel"
	"github.com/ozontech/grpcq/consts"
	"github.com/ozontech/grpcq/engine/call"
	"github.com/ozontech/grpcq/engine/cq"
	"github.com/ozontech/grpcq/engine/pump"
	"github.com/ozontech/grpcq/engine/types"
	"github.com/ozontech/grpcq/mdcodec"
	"github.com/ozontech/grpcq/rpcerr"
	"github.com/ozontech/grpcq/transport/grpctransport"
)

// CallOptions are per-call settings. Metadata and MetadataJSON are merged;
// MetadataJSON is the {"key":"v"|["v",...]} form.
type CallOptions struct {
	Metadata     metadata.MD
	MetadataJSON []byte
	Deadline     time.Time
	Timeout      time.Duration
}

type StreamOptions struct {
	CallOptions
	// Sync switches the stream to ReadSync/WriteSync/FinishSync.
	Sync          bool
	Observers     call.Observers
	HighWaterMark int
}

type Client struct {
	ch       *channel.Channel
	ownsChan bool
	dialer   types.Dialer
	md       *mdcodec.Codec
	unary    *pump.Pump
	live     *registry
	log      *zap.Logger

	// closed меняется под записью, вызовы регистрируются под чтением
	gate     sync.RWMutex
	closed   atomic.Bool
	inflight sync.WaitGroup

	drainMu  sync.Mutex
	drainErr error
}

// Dial creates a channel from cfg and a client owning it.
func Dial(cfg channel.Config) (*Client, error) {
	ch, err := channel.New(cfg)
	if err != nil {
		return nil, err
	}
	c := New(ch, cfg.Log)
	c.ownsChan = true
	return c, nil
}

// New creates a client on ch. The channel stays owned by the caller.
func New(ch *channel.Channel, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("client").With(zap.String("target", ch.Target()))
	return &Client{
		ch:     ch,
		dialer: grpctransport.NewDialer(ch.Conn(), log, ch.CallOptions()...),
		md:     mdcodec.New(mdcodec.WithMaxHeaderListSize(ch.MaxMetadataSize())),
		unary:  pump.New(cq.New(), log),
		live:   newRegistry(),
		log:    log,
	}
}

func (c *Client) Channel() *channel.Channel { return c.ch }
func (c *Client) Codec() *mdcodec.Codec     { return c.md }
func (c *Client) Live() int                 { return c.live.Len() }

// callContext applies metadata and deadline. The returned cancel must be
// called once the call is terminal.
func (c *Client) callContext(ctx context.Context, opts CallOptions) (context.Context, context.CancelFunc, error) {
	if c.closed.Load() || c.ch.Closed() {
		return nil, nil, rpcerr.ErrChannelClosed
	}
	md := opts.Metadata
	if len(opts.MetadataJSON) > 0 {
		parsed, err := c.md.Parse(opts.MetadataJSON)
		if err != nil {
			return nil, nil, err
		}
		md = metadata.Join(md, parsed)
	}
	if len(md) > 0 {
		if err := c.md.Validate(md); err != nil {
			return nil, nil, err
		}
		ctx = mdcodec.Outgoing(ctx, md)
	}

	switch {
	case !opts.Deadline.IsZero():
		ctx, cancel := context.WithDeadline(ctx, opts.Deadline)
		return ctx, cancel, nil
	case opts.Timeout > 0:
		ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		return ctx, cancel, nil
	default:
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}
}

// admit counts a new call as in flight unless the client is closed. The
// returned release must be called once the call is registered: Close either
// sees the call in the registry or the call sees ErrChannelClosed.
func (c *Client) admit() (release func(), err error) {
	c.gate.RLock()
	if c.closed.Load() {
		c.gate.RUnlock()
		return nil, rpcerr.ErrChannelClosed
	}
	c.inflight.Add(1)
	return c.gate.RUnlock, nil
}

// drain waits until the transport lets go of a terminal call.
func (c *Client) drain(wait func() error) {
	defer c.inflight.Done()
	if err := wait(); err != nil {
		c.drainMu.Lock()
		c.drainErr = multierr.Append(c.drainErr, err)
		c.drainMu.Unlock()
	}
}

// UnaryCall starts an asynchronous unary call.
func (c *Client) UnaryCall(ctx context.Context, method string, request []byte, opts CallOptions) (*Unary, error) {
	ctx, cancel, err := c.callContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	release, err := c.admit()
	if err != nil {
		cancel()
		return nil, err
	}
	defer release()

	u := &Unary{
		id:     uuid.NewString(),
		method: method,
		done:   make(chan struct{}),
	}
	c.live.Set(u.id, u)
	uc := call.StartUnary(ctx, c.dialer, c.unary, method, request, func(resp []byte, err error) {
		u.resp, u.err = resp, err
		c.live.Delete(u.id)
		cancel()
		close(u.done)
	}, c.log)
	u.bind(uc)
	go c.drain(uc.Release)
	return u, nil
}

// UnaryCallSync performs a blocking unary call. It never touches the pump
// when the transport has a direct unary primitive.
func (c *Client) UnaryCallSync(ctx context.Context, method string, request []byte, opts CallOptions) ([]byte, error) {
	inv, ok := c.dialer.(types.Invoker)
	if !ok {
		u, err := c.UnaryCall(ctx, method, request, opts)
		if err != nil {
			return nil, err
		}
		<-u.Done()
		return u.Result()
	}

	ctx, cancel, err := c.callContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer cancel()
	release, err := c.admit()
	if err != nil {
		return nil, err
	}
	release()
	defer c.inflight.Done()

	resp, trailer, err := inv.Invoke(ctx, method, request)
	if err != nil {
		return nil, rpcerr.FromError(err, trailer)
	}
	return resp, nil
}

func (c *Client) OpenServerStream(ctx context.Context, method string, request []byte, opts StreamOptions) (*Stream, error) {
	return c.open(ctx, call.ServerStream, method, request, opts)
}

func (c *Client) OpenClientStream(ctx context.Context, method string, opts StreamOptions) (*Stream, error) {
	return c.open(ctx, call.ClientStream, method, nil, opts)
}

func (c *Client) OpenBidiStream(ctx context.Context, method string, opts StreamOptions) (*Stream, error) {
	return c.open(ctx, call.BidiStream, method, nil, opts)
}

func (c *Client) open(ctx context.Context, shape call.Shape, method string, request []byte, opts StreamOptions) (*Stream, error) {
	ctx, cancel, err := c.callContext(ctx, opts.CallOptions)
	if err != nil {
		return nil, err
	}
	release, err := c.admit()
	if err != nil {
		cancel()
		return nil, err
	}
	defer release()

	s, err := call.OpenStream(ctx, c.dialer, shape, method, request, call.Options{
		Sync:          opts.Sync,
		Observers:     opts.Observers,
		HighWaterMark: opts.HighWaterMark,
		Log:           c.log,
	})
	if err != nil {
		cancel()
		c.inflight.Done()
		return nil, err
	}

	st := &Stream{Stream: s, id: uuid.NewString()}
	c.live.Set(st.id, st)
	go func() {
		<-s.Done()
		c.live.Delete(st.id)
		cancel()
		c.drain(func() error { return s.Close(context.Background()) })
	}()
	return st, nil
}

// CancelCall cancels a live call by its identifier. It reports whether the
// call was found.
func (c *Client) CancelCall(id string) bool {
	cl := c.live.Get(id)
	if cl == nil {
		return false
	}
	cl.Cancel()
	return true
}

// Close cancels every live call, waits for their terminal statuses and for
// the transport to release them, then stops the unary pump. Calls and
// openers afterwards fail with ErrChannelClosed.
func (c *Client) Close(ctx context.Context) error {
	c.gate.Lock()
	wasClosed := c.closed.Swap(true)
	c.gate.Unlock()
	if wasClosed {
		return nil
	}
	c.log.Debug("closing", zap.Int("live", c.live.Len()))
	c.live.Each(func(_ string, cl canceller) { cl.Cancel() })

	var err error
	idle := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		c.drainMu.Lock()
		err = multierr.Append(err, c.drainErr)
		c.drainMu.Unlock()
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
		// пампа уходит, незавершённые unary закрываем сами
		c.live.Each(func(_ string, cl canceller) {
			if u, ok := cl.(*Unary); ok {
				u.abandon()
			}
		})
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), consts.DefaultCancelTimeout)
	defer cancel()
	err = multierr.Append(err, c.unary.Close(closeCtx))
	if c.ownsChan {
		err = multierr.Append(err, c.ch.Close())
	}
	return err
}
