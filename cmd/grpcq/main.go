package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
)

type CLI struct {
	Unary        UnaryCommand        `cmd:"" help:"Make unary calls."`
	ServerStream ServerStreamCommand `cmd:"" help:"Open a server stream."`
	ClientStream ClientStreamCommand `cmd:"" help:"Open a client stream."`
	Bidi         BidiCommand         `cmd:"" help:"Open a bidirectional stream."`
	EchoServer   EchoServerCommand   `cmd:"" help:"Run a schema-agnostic echo server."`

	Config kong.ConfigFlag   `help:"YAML file with flag defaults." type:"existingfile"`
	Man    mangokong.ManFlag `help:"Write man page." hidden:""`
}

func parser(ctx context.Context, cli *CLI, opts ...kong.Option) (*kong.Kong, error) {
	opts = append([]kong.Option{
		kong.Name("grpcq"),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Configuration(yamlLoader),
		kong.Groups(map[string]string{
			"tls":  `TLS flags:`,
			"call": `Call flags:`,
		}),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`schema-agnostic grpc client

grpcq sends opaque payloads over unary, server, client and bidi streaming calls and reports codes, sizes and timings.
		`),
	}, opts...)
	return kong.New(cli, opts...)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	k, err := parser(ctx, &cli, kong.Bind(Output{Stdout: os.Stdout, Stderr: os.Stderr}))
	if err != nil {
		panic(err)
	}
	kongCtx, err := k.Parse(os.Args[1:])
	k.FatalIfErrorf(err)
	err = kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
