// Package channel owns a grpc connection to one target: transport security,
// the option map, per-call credentials and connectivity state.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/ozontech/grpcq/auth"
	"github.com/ozontech/grpcq/consts"
)

var ErrBadOption = errors.New("bad channel option")

type Config struct {
	Target      string
	Credentials Credentials
	Options     Options
	// CallCredentials is attached to every call when set.
	CallCredentials auth.Plugin
	// LogCalls enables zap interceptors.
	LogCalls bool
	// DialOptions are appended last, after everything derived from Options.
	DialOptions []grpc.DialOption
	Log         *zap.Logger
}

type Channel struct {
	cc              *grpc.ClientConn
	target          string
	callOpts        []grpc.CallOption
	maxMetadataSize uint32
	closed          atomic.Bool
	log             *zap.Logger
}

// New validates the config and creates a lazily connecting channel.
func New(cfg Config) (*Channel, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrBadOption)
	}
	if cfg.Credentials.Type == "" {
		cfg.Credentials.Type = CredentialsInsecure
	}
	creds, err := cfg.Credentials.Transport()
	if err != nil {
		return nil, err
	}
	s, err := cfg.Options.resolve(log)
	if err != nil {
		return nil, err
	}
	if s.maxMetadataSize == 0 {
		s.maxMetadataSize = consts.DefaultMaxHeaderListSize
	}

	dial := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	dial = append(dial, s.dial...)
	if cfg.CallCredentials != nil {
		dial = append(dial, grpc.WithPerRPCCredentials(
			auth.NewPerRPC(cfg.CallCredentials, cfg.Credentials.Type == CredentialsSSL),
		))
	}
	if cfg.LogCalls {
		dial = append(dial,
			grpc.WithChainUnaryInterceptor(unaryLogger(log)),
			grpc.WithChainStreamInterceptor(streamLogger(log)),
		)
	}
	dial = append(dial, cfg.DialOptions...)

	cc, err := grpc.NewClient(cfg.Target, dial...)
	if err != nil {
		return nil, fmt.Errorf("create channel to %s: %w", cfg.Target, err)
	}
	log.Debug("channel created", zap.String("target", cfg.Target), zap.String("credentials", cfg.Credentials.Type))
	return &Channel{
		cc:              cc,
		target:          cfg.Target,
		callOpts:        s.call,
		maxMetadataSize: s.maxMetadataSize,
		log:             log,
	}, nil
}

func (c *Channel) Conn() *grpc.ClientConn         { return c.cc }
func (c *Channel) Target() string                 { return c.target }
func (c *Channel) CallOptions() []grpc.CallOption { return c.callOpts }
func (c *Channel) MaxMetadataSize() uint32        { return c.maxMetadataSize }
func (c *Channel) Closed() bool                   { return c.closed.Load() }

// State reports connectivity. With tryToConnect an idle channel starts
// connecting. A closed channel is always Shutdown.
func (c *Channel) State(tryToConnect bool) connectivity.State {
	if c.closed.Load() {
		return connectivity.Shutdown
	}
	st := c.cc.GetState()
	if tryToConnect && st == connectivity.Idle {
		c.cc.Connect()
	}
	return st
}

// WaitForStateChange blocks until the state differs from source or ctx is done.
// It returns false on ctx expiry.
func (c *Channel) WaitForStateChange(ctx context.Context, source connectivity.State) bool {
	if c.closed.Load() {
		return source != connectivity.Shutdown
	}
	return c.cc.WaitForStateChange(ctx, source)
}

func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.log.Debug("channel closed", zap.String("target", c.target))
	return c.cc.Close()
}
