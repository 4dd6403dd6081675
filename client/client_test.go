package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ozontech/grpcq/auth"
	"github.com/ozontech/grpcq/channel"
	"github.com/ozontech/grpcq/echoserver"
	"github.com/ozontech/grpcq/engine/call"
	"github.com/ozontech/grpcq/mdcodec"
	"github.com/ozontech/grpcq/rpcerr"
)

func newClient(t *testing.T, mutate ...func(*channel.Config)) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := echoserver.New(zaptest.NewLogger(t))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := channel.Config{
		Target:   "passthrough:///bufnet",
		LogCalls: true,
		Log:      zaptest.NewLogger(t),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := Dial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestUnaryEcho(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	u, err := c.UnaryCall(ctx, "/Echo/Say", []byte("hello world"), CallOptions{})
	require.NoError(t, err)
	a.NotEmpty(u.CallID())
	resp, err := u.Wait(ctx)
	require.NoError(t, err)
	a.Equal([]byte("hello world"), resp)

	resp, err = c.UnaryCallSync(ctx, "/Echo/Say", []byte("hello world"), CallOptions{})
	require.NoError(t, err)
	a.Equal([]byte("hello world"), resp)

	a.Eventually(func() bool { return c.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestUnaryFailure(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	u, err := c.UnaryCall(ctx, "/Echo/Fail", []byte("x"), CallOptions{})
	require.NoError(t, err)
	_, err = u.Wait(ctx)
	var asyncErr *rpcerr.Error
	require.ErrorAs(t, err, &asyncErr)
	a.Equal(codes.NotFound, asyncErr.Code)
	a.Equal([]string{"requested"}, asyncErr.Metadata.Get(echoserver.TrailerReason))

	_, err = c.UnaryCallSync(ctx, "/Echo/Fail", []byte("x"), CallOptions{})
	var syncErr *rpcerr.Error
	require.ErrorAs(t, err, &syncErr)
	a.Equal(asyncErr.Code, syncErr.Code)
	a.Equal(asyncErr.Message, syncErr.Message)
	a.Equal([]string{"requested"}, syncErr.Metadata.Get(echoserver.TrailerReason))
}

func TestUnaryDeadline(t *testing.T) {
	t.Parallel()
	c := newClient(t)

	_, err := c.UnaryCallSync(testCtx(t), "/Echo/Say", []byte("x"), CallOptions{
		Deadline: time.Now().Add(-time.Second),
	})
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestCancelCall(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	// Chat не отвечает, пока клиент не пишет, значит поток живёт до отмены
	s, err := c.OpenBidiStream(ctx, "/Echo/Chat", StreamOptions{})
	require.NoError(t, err)
	a.True(c.CancelCall(s.CallID()))
	a.False(c.CancelCall("no-such-call"))

	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatal("stream not terminated")
	}
	st, ok := s.Status()
	require.True(t, ok)
	a.Equal(codes.Canceled, st.Code)
	a.Eventually(func() bool { return c.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestCancelUnaryCall(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	u, err := c.UnaryCall(ctx, "/Echo/Hang", []byte("x"), CallOptions{})
	require.NoError(t, err)
	a.Equal(1, c.Live())

	a.True(c.CancelCall(u.CallID()))
	_, err = u.Wait(ctx)
	a.Equal(codes.Canceled, status.Code(err))
	a.True(u.Cancelled())
	a.Equal(0, c.Live())
	a.False(c.CancelCall(u.CallID()))
}

func TestCloseWhileCalling(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for {
				u, err := c.UnaryCall(ctx, "/Echo/Say", []byte("x"), CallOptions{})
				if err != nil {
					a.ErrorIs(err, rpcerr.ErrChannelClosed)
					return
				}
				// каждый принятый вызов обязан завершиться
				if _, err := u.Wait(ctx); err != nil {
					a.Equal(codes.Canceled, status.Code(err))
				}
			}
		}()
	}
	close(start)
	time.Sleep(20 * time.Millisecond)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(closeCtx))
	wg.Wait()
	a.Equal(0, c.Live())

	_, err := c.OpenBidiStream(ctx, "/Echo/Chat", StreamOptions{})
	a.ErrorIs(err, rpcerr.ErrChannelClosed)
}

func TestCloseReleasesTransport(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	var streams []*Stream
	for range 3 {
		s, err := c.OpenBidiStream(ctx, "/Echo/Chat", StreamOptions{})
		require.NoError(t, err)
		streams = append(streams, s)
	}
	u, err := c.UnaryCall(ctx, "/Echo/Hang", nil, CallOptions{})
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(closeCtx))

	_, err = u.Wait(ctx)
	a.Equal(codes.Canceled, status.Code(err))
	for _, s := range streams {
		st, ok := s.Status()
		require.True(t, ok, "stream not terminal after Close")
		a.Equal(codes.Canceled, st.Code)
		// пампа и транспорт уже отпущены
		released, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		a.NoError(s.Close(released))
		cancel()
	}
	a.Equal(0, c.Live())
}

type observed struct {
	mu     sync.Mutex
	items  [][]byte
	header metadata.MD
	status []call.Status
	done   chan struct{}
}

func newObserved() *observed { return &observed{done: make(chan struct{})} }

func (o *observed) observers() call.Observers {
	return call.Observers{
		OnData: func(item []byte) {
			o.mu.Lock()
			o.items = append(o.items, item)
			o.mu.Unlock()
		},
		OnMetadata: func(header metadata.MD) {
			o.mu.Lock()
			o.header = header
			o.mu.Unlock()
		},
		OnStatus: func(st call.Status) {
			o.mu.Lock()
			o.status = append(o.status, st)
			o.mu.Unlock()
			close(o.done)
		},
	}
}

func TestServerStreamSizes(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	o := newObserved()
	s, err := c.OpenServerStream(ctx, "/Echo/Stream", echoserver.SizesRequest(4, 0, 10), StreamOptions{
		Observers: o.observers(),
	})
	require.NoError(t, err)
	<-o.done

	o.mu.Lock()
	defer o.mu.Unlock()
	require.Len(t, o.items, 3)
	a.Equal([]byte("aaaa"), o.items[0])
	a.Empty(o.items[1])
	a.Equal([]byte("cccccccccc"), o.items[2])
	require.Len(t, o.status, 1)
	a.Equal(codes.OK, o.status[0].Code)
	a.Equal([]string{"/Echo/Stream"}, o.header.Get(echoserver.HeaderMethod))

	_, err = s.Write([]byte("nope"))
	a.ErrorIs(err, rpcerr.ErrWriteToServerStream)
}

func TestClientStreamFinishSync(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	s, err := c.OpenClientStream(ctx, "/Echo/Collect", StreamOptions{Sync: true})
	require.NoError(t, err)
	require.NoError(t, s.WriteSync([]byte("hello ")))
	require.NoError(t, s.WriteSync([]byte("world")))
	resp, err := s.FinishSync()
	require.NoError(t, err)
	a.Equal([]byte("hello world"), resp)

	st, ok := s.Status()
	require.True(t, ok)
	a.True(st.OK())
}

func TestBidiSyncEcho(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	s, err := c.OpenBidiStream(ctx, "/Echo/Chat", StreamOptions{Sync: true})
	require.NoError(t, err)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, s.WriteSync([]byte(msg)))
		got, err := s.ReadSync()
		require.NoError(t, err)
		a.Equal([]byte(msg), got)
	}
	require.NoError(t, s.WritesDone())
	_, err = s.ReadSync()
	a.Error(err)
}

func TestMetadataAndCredentials(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t, func(cfg *channel.Config) {
		cfg.CallCredentials = auth.StaticBearer("secret")
	})
	ctx := testCtx(t)

	_, err := c.UnaryCall(ctx, "/Echo/Say", nil, CallOptions{MetadataJSON: []byte(`{"bad key":"v"}`)})
	a.ErrorIs(err, mdcodec.ErrInvalidKey)

	resp, err := c.UnaryCallSync(ctx, "/Echo/Say", []byte("md"), CallOptions{
		Metadata:     metadata.Pairs("x-a", "1"),
		MetadataJSON: []byte(`{"x-b":["2","3"]}`),
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)
	a.Equal([]byte("md"), resp)
}

func TestClosedClient(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	c := newClient(t)
	ctx := testCtx(t)

	s, err := c.OpenBidiStream(ctx, "/Echo/Chat", StreamOptions{})
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	a.NoError(c.Close(ctx))

	select {
	case <-s.Done():
	default:
		t.Fatal("live stream survived Close")
	}

	_, err = c.UnaryCall(ctx, "/Echo/Say", nil, CallOptions{})
	a.ErrorIs(err, rpcerr.ErrChannelClosed)
	_, err = c.UnaryCallSync(ctx, "/Echo/Say", nil, CallOptions{})
	a.ErrorIs(err, rpcerr.ErrChannelClosed)
	_, err = c.OpenServerStream(ctx, "/Echo/Stream", nil, StreamOptions{})
	a.ErrorIs(err, rpcerr.ErrChannelClosed)
	a.True(c.Channel().Closed())
}
