package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ozontech/grpcq/auth"
	"github.com/ozontech/grpcq/channel"
	"github.com/ozontech/grpcq/client"
	"github.com/ozontech/grpcq/consts"
	"github.com/ozontech/grpcq/datasource"
	"github.com/ozontech/grpcq/report"
	"github.com/ozontech/grpcq/report/multi"
	"github.com/ozontech/grpcq/report/phout"
	"github.com/ozontech/grpcq/report/supersimple"
	"github.com/ozontech/grpcq/scheduler"
)

type ConnFlags struct {
	Addr    string `required:"" help:"Target address (host:port or any grpc target)."`
	Options string `help:"Channel options JSON, e.g. {\"grpc.keepalive_time_ms\":30000}."`
	Verbose bool   `short:"v" help:"Verbose output."`

	TLS        bool   `group:"tls" help:"Use TLS."`
	CACert     string `group:"tls" type:"existingfile" help:"PEM root certificates."`
	Cert       string `group:"tls" type:"existingfile" help:"PEM client certificate chain."`
	Key        string `group:"tls" type:"existingfile" help:"PEM client private key."`
	ServerName string `group:"tls" help:"Override the TLS server name."`

	Token string `env:"GRPCQ_TOKEN" help:"Bearer token sent with every call."`
}

func (f *ConnFlags) logger() *zap.Logger {
	if f.Verbose {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.NewNop()
}

func (f *ConnFlags) credentials() (channel.Credentials, error) {
	if !f.TLS {
		return channel.Credentials{Type: channel.CredentialsInsecure}, nil
	}
	c := channel.Credentials{Type: channel.CredentialsSSL, TargetNameOverride: f.ServerName}
	for _, file := range []struct {
		path string
		dst  *string
	}{
		{f.CACert, &c.RootCerts},
		{f.Cert, &c.CertChain},
		{f.Key, &c.PrivateKey},
	} {
		if file.path == "" {
			continue
		}
		b, err := os.ReadFile(file.path)
		if err != nil {
			return c, fmt.Errorf("read %s: %w", file.path, err)
		}
		*file.dst = string(b)
	}
	return c, nil
}

func (f *ConnFlags) dial(log *zap.Logger) (*client.Client, error) {
	creds, err := f.credentials()
	if err != nil {
		return nil, err
	}
	opts, err := channel.ParseOptions([]byte(f.Options))
	if err != nil {
		return nil, err
	}
	cfg := channel.Config{
		Target:      f.Addr,
		Credentials: creds,
		Options:     opts,
		LogCalls:    f.Verbose,
		Log:         log,
	}
	if f.Token != "" {
		cfg.CallCredentials = auth.StaticBearer(f.Token)
	}
	return client.Dial(cfg)
}

type CallFlags struct {
	Metadata string        `group:"call" help:"Metadata JSON: {\"key\":\"value\"|[\"v1\",\"v2\"]}."`
	Deadline time.Duration `group:"call" help:"Per-call deadline (0 - none)."`
	Sync     bool          `group:"call" help:"Use the blocking API."`
}

func (f *CallFlags) options() client.CallOptions {
	return client.CallOptions{
		MetadataJSON: []byte(f.Metadata),
		Timeout:      f.Deadline,
	}
}

// LoadFlags repeat a call and collect a report.
type LoadFlags struct {
	Repeat   int64         `default:"1" help:"Number of calls."`
	RPS      uint64        `help:"Calls per second (0 - unlimited)."`
	RPSTo    uint64        `help:"Ramp the rate linearly from --rps to this value over --duration."`
	Duration time.Duration `help:"Stop starting calls after this long."`
	Phout    string        `help:"Phout report file." type:"path"`

	RequestsFile  *os.File `help:"File of length-delimited request payloads, used in a cycle instead of --data."`
	InmemRequests bool     `help:"Load the whole requests file in memory."`
}

func (f *LoadFlags) dataSource(payloads [][]byte) (datasource.DataSource, error) {
	if f.RequestsFile == nil {
		if len(payloads) == 0 {
			payloads = [][]byte{{}}
		}
		return datasource.NewInmemPayloads(payloads...)
	}
	if f.InmemRequests {
		return datasource.NewInmemDataSource(f.RequestsFile)
	}
	return datasource.NewFileDataSource(datasource.NewCyclicReader(f.RequestsFile), consts.MaxRequestSize), nil
}

func (f *LoadFlags) scheduler() (scheduler.Scheduler, error) {
	var s scheduler.Scheduler = scheduler.Unlimited{}
	switch {
	case f.RPSTo != 0:
		line, err := scheduler.NewLine(float64(f.RPS), float64(f.RPSTo), f.Duration)
		if err != nil {
			return nil, err
		}
		s = line
	case f.RPS != 0:
		c, err := scheduler.NewConstant(f.RPS)
		if err != nil {
			return nil, err
		}
		s = c
	}
	if f.Duration > 0 {
		s = scheduler.NewDurationLimiter(s, f.Duration)
	}
	if f.Repeat > 0 {
		s = scheduler.NewCountLimiter(s, f.Repeat)
	}
	return s, nil
}

// reporter prints a per-second summary to out when more than one call is made.
func (f *LoadFlags) reporter(out io.Writer) (report.Reporter, func() error, error) {
	period := time.Duration(0)
	if f.Repeat != 1 {
		period = time.Second
	}
	var r report.Reporter = supersimple.New(out, period, consts.DefaultTimeout)
	if f.Phout == "" {
		return r, func() error { return nil }, nil
	}
	file, err := os.Create(f.Phout)
	if err != nil {
		return nil, nil, fmt.Errorf("creating phout file(%s): %w", f.Phout, err)
	}
	return multi.New(phout.New(file, consts.DefaultTimeout), r), file.Close, nil
}

// closeClient tears the client down with a bounded wait.
func closeClient(c *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), consts.DefaultCancelTimeout)
	defer cancel()
	return c.Close(ctx)
}
