package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/status"

	"github.com/ozontech/grpcq/report"
	"github.com/ozontech/grpcq/scheduler"
)

type UnaryCommand struct {
	Method string `arg:"" required:"" help:"Full method name: /pkg.Service/Method."`

	ConnFlags
	CallFlags
	LoadFlags
	PayloadFlags
}

func (c *UnaryCommand) Run(ctx context.Context, out Output) (err error) {
	log := c.logger()
	defer log.Sync() //nolint:errcheck

	payloads, err := c.messages()
	if err != nil {
		return err
	}
	requests, err := c.dataSource(payloads)
	if err != nil {
		return err
	}
	sched, err := c.scheduler()
	if err != nil {
		return err
	}

	cl, err := c.dial(log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeClient(cl)) }()

	reporter, closeReport, err := c.reporter(out.Stderr)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeReport()) }()

	g := new(errgroup.Group)
	g.Go(reporter.Run)

	var (
		wg      sync.WaitGroup
		p       = &printer{w: out.Stdout, format: c.Format}
		single  = c.Repeat == 1
		lastErr atomic.Pointer[error]
	)
	finish := func(state report.CallState, resp []byte, callErr error) {
		state.Received(len(resp))
		state.Status(status.Code(callErr))
		state.End()
		if callErr != nil {
			lastErr.Store(&callErr)
			log.Debug("call failed", zap.Error(callErr))
			return
		}
		if single {
			p.item(resp)
		}
	}

	paceErr := scheduler.Pace(ctx, sched, func(int64) {
		state := reporter.Acquire(c.Method)
		req, err := requests.Fetch()
		if err != nil {
			finish(state, nil, err)
			return
		}
		state.SetSize(len(req))

		if c.Sync {
			resp, err := cl.UnaryCallSync(ctx, c.Method, req, c.options())
			finish(state, resp, err)
			return
		}
		u, err := cl.UnaryCall(ctx, c.Method, req, c.options())
		if err != nil {
			finish(state, nil, err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := u.Result()
			finish(state, resp, err)
		}()
	})
	wg.Wait()

	err = multierr.Append(err, reporter.Close())
	err = multierr.Append(err, g.Wait())
	if paceErr != nil && !errors.Is(paceErr, context.Canceled) {
		err = multierr.Append(err, paceErr)
	}
	if single {
		if last := lastErr.Load(); last != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", c.Method, *last))
		}
	}
	return err
}
