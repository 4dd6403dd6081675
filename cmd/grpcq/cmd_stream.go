package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/metadata"

	"github.com/ozontech/grpcq/client"
	"github.com/ozontech/grpcq/engine/call"
	"github.com/ozontech/grpcq/report"
	"github.com/ozontech/grpcq/report/supersimple"
)

type StreamFlags struct {
	Method string `arg:"" required:"" help:"Full method name: /pkg.Service/Method."`

	ConnFlags
	CallFlags
	PayloadFlags
}

// session is one streaming call run by a command.
type session struct {
	flags    *StreamFlags
	out      Output
	log      *zap.Logger
	cl       *client.Client
	reporter *supersimple.Reporter
	state    report.CallState
	printer  *printer
	done     chan error
}

func (f *StreamFlags) session(out Output) (*session, error) {
	log := f.logger()
	cl, err := f.dial(log)
	if err != nil {
		return nil, err
	}
	r := supersimple.New(out.Stderr, 0, 0)
	s := &session{
		flags:    f,
		out:      out,
		log:      log,
		cl:       cl,
		reporter: r,
		state:    r.Acquire(f.Method),
		printer:  &printer{w: out.Stdout, format: f.Format},
		done:     make(chan error, 1),
	}
	go func() { s.done <- r.Run() }()
	return s, nil
}

func (s *session) options() client.StreamOptions {
	opts := client.StreamOptions{
		CallOptions: s.flags.options(),
		Sync:        s.flags.Sync,
	}
	if !s.flags.Sync {
		opts.Observers = call.Observers{
			OnData: s.received,
			OnMetadata: func(header metadata.MD) {
				s.log.Debug("header", zap.ByteString("metadata", s.cl.Codec().Serialize(header)))
			},
		}
	}
	return opts
}

func (s *session) received(item []byte) {
	s.state.Received(len(item))
	s.printer.item(item)
}

// finish waits for the terminal status and closes everything down.
func (s *session) finish(ctx context.Context, st *client.Stream, err error) error {
	if st != nil {
		select {
		case <-st.Done():
		case <-ctx.Done():
			st.Cancel()
			<-st.Done()
		}
		final, _ := st.Status()
		s.state.Status(final.Code)
		if len(final.Trailer) > 0 {
			s.log.Debug("trailer", zap.ByteString("metadata", s.cl.Codec().Serialize(final.Trailer)))
		}
		if err == nil {
			err = final.Err()
		}
	}
	s.state.End()
	err = multierr.Append(err, s.reporter.Close())
	err = multierr.Append(err, <-s.done)
	err = multierr.Append(err, closeClient(s.cl))
	if err != nil {
		return fmt.Errorf("%s: %w", s.flags.Method, err)
	}
	return nil
}

func (s *session) write(st *client.Stream, msgs [][]byte) error {
	sent := 0
	defer func() { s.state.SetSize(sent) }()
	for _, m := range msgs {
		if s.flags.Sync {
			if err := st.WriteSync(m); err != nil {
				return err
			}
		} else if accepted, err := st.Write(m); err != nil {
			return err
		} else if !accepted {
			s.log.Debug("write queue is over the high-water mark")
		}
		sent += len(m)
	}
	return st.WritesDone()
}

// drain reads a sync stream until the end.
func (s *session) drain(st *client.Stream) error {
	for {
		item, err := st.ReadSync()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.received(item)
	}
}

type ServerStreamCommand struct {
	StreamFlags
}

func (c *ServerStreamCommand) Run(ctx context.Context, out Output) error {
	req, err := c.first()
	if err != nil {
		return err
	}
	s, err := c.session(out)
	if err != nil {
		return err
	}
	s.state.SetSize(len(req))
	st, err := s.cl.OpenServerStream(ctx, c.Method, req, s.options())
	if err == nil && c.Sync {
		err = s.drain(st)
	}
	return s.finish(ctx, st, err)
}

type ClientStreamCommand struct {
	StreamFlags
}

func (c *ClientStreamCommand) Run(ctx context.Context, out Output) error {
	msgs, err := c.messages()
	if err != nil {
		return err
	}
	s, err := c.session(out)
	if err != nil {
		return err
	}
	st, err := s.cl.OpenClientStream(ctx, c.Method, s.options())
	if err != nil {
		return s.finish(ctx, nil, err)
	}
	if !c.Sync {
		return s.finish(ctx, st, s.write(st, msgs))
	}

	sent := 0
	for _, m := range msgs {
		if err = st.WriteSync(m); err != nil {
			return s.finish(ctx, st, err)
		}
		sent += len(m)
	}
	s.state.SetSize(sent)
	resp, err := st.FinishSync()
	if err == nil {
		s.received(resp)
	}
	return s.finish(ctx, st, err)
}

type BidiCommand struct {
	StreamFlags
}

func (c *BidiCommand) Run(ctx context.Context, out Output) error {
	msgs, err := c.messages()
	if err != nil {
		return err
	}
	s, err := c.session(out)
	if err != nil {
		return err
	}
	st, err := s.cl.OpenBidiStream(ctx, c.Method, s.options())
	if err != nil {
		return s.finish(ctx, nil, err)
	}
	if !c.Sync {
		return s.finish(ctx, st, s.write(st, msgs))
	}

	g := new(errgroup.Group)
	g.Go(func() error { return s.write(st, msgs) })
	g.Go(func() error { return s.drain(st) })
	return s.finish(ctx, st, g.Wait())
}
