package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/grpcq/echoserver"
)

type EchoServerCommand struct {
	Listen  string `default:":9090" help:"Listen address."`
	Verbose bool   `short:"v" help:"Log every call."`
}

func (c *EchoServerCommand) Run(ctx context.Context, out Output) error {
	log := zap.NewNop()
	if c.Verbose {
		log = zap.Must(zap.NewDevelopment())
	}
	defer log.Sync() //nolint:errcheck

	l, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Fprintf(out.Stderr, "echo server listening on %s\n", l.Addr())

	srv := echoserver.New(log)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(l) })
	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return nil
	})
	return g.Wait()
}
