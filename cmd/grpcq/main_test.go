package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ozontech/grpcq/datasource"
	"github.com/ozontech/grpcq/echoserver"
)

func startEcho(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := echoserver.New(zaptest.NewLogger(t))
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(srv.Stop)
	return l.Addr().String()
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var o, e bytes.Buffer
	var cli CLI
	k, err := parser(ctx, &cli,
		kong.Bind(Output{Stdout: &o, Stderr: &e}),
		kong.Exit(func(int) { t.Fatalf("unexpected exit: %s", e.String()) }),
	)
	require.NoError(t, err)
	kctx, err := k.Parse(args)
	require.NoError(t, err)
	err = kctx.Run()
	return o.String(), e.String(), err
}

func TestUnaryCommand(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	addr := startEcho(t)

	out, _, err := run(t, "unary", "/Echo/Say", "--addr", addr, "-d", "hello world")
	require.NoError(t, err)
	a.Equal("\"hello world\"\n", out)

	out, report, err := run(t, "unary", "/Echo/Say", "--addr", addr, "-d", "x", "--repeat", "5", "--sync")
	require.NoError(t, err)
	a.Empty(out)
	a.Contains(report, "calls=5 ok=5 nook=0")

	_, _, err = run(t, "unary", "/Echo/Fail", "--addr", addr)
	a.Equal(codes.NotFound, status.Code(err))
}

func TestUnaryRequestsFile(t *testing.T) {
	t.Parallel()
	addr := startEcho(t)

	path := filepath.Join(t.TempDir(), "requests.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, datasource.WriteRecords(f, []byte("a"), []byte("bb")))
	require.NoError(t, f.Close())

	for _, mode := range [][]string{nil, {"--inmem-requests"}} {
		args := append([]string{"unary", "/Echo/Say", "--addr", addr, "--requests-file", path, "--repeat", "3"}, mode...)
		_, report, err := run(t, args...)
		require.NoError(t, err)
		assert.Contains(t, report, "calls=3 ok=3 nook=0", "%v", mode)
	}
}

func TestServerStreamCommand(t *testing.T) {
	t.Parallel()
	addr := startEcho(t)
	req := hex.EncodeToString(echoserver.SizesRequest(4, 0, 10))

	for _, mode := range [][]string{nil, {"--sync"}} {
		args := append([]string{"server-stream", "/Echo/Stream", "--addr", addr, "--hex", "-d", req}, mode...)
		out, _, err := run(t, args...)
		require.NoError(t, err)
		assert.Equal(t, "\"aaaa\"\n\"\"\n\"cccccccccc\"\n", out, "%v", mode)
	}
}

func TestClientStreamCommand(t *testing.T) {
	t.Parallel()
	addr := startEcho(t)

	for _, mode := range [][]string{nil, {"--sync"}} {
		args := append([]string{"client-stream", "/Echo/Collect", "--addr", addr, "-d", "hello ", "-d", "world"}, mode...)
		out, _, err := run(t, args...)
		require.NoError(t, err)
		assert.Equal(t, "\"hello world\"\n", out, "%v", mode)
	}
}

func TestBidiCommand(t *testing.T) {
	t.Parallel()
	addr := startEcho(t)

	for _, mode := range [][]string{nil, {"--sync"}} {
		args := append([]string{"bidi", "/Echo/Chat", "--addr", addr, "-d", "one", "-d", "two", "--format", "raw"}, mode...)
		out, _, err := run(t, args...)
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", out, "%v", mode)
	}
}

func TestYAMLConfig(t *testing.T) {
	t.Parallel()
	addr := startEcho(t)

	cfg := filepath.Join(t.TempDir(), "grpcq.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("addr: "+addr+"\nunary:\n  data: [from-config]\n  format: hex\n"), 0o600))

	out, _, err := run(t, "--config", cfg, "unary", "/Echo/Say")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString([]byte("from-config"))+"\n", out)
}
