package channel

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/mailru/easyjson/jlexer"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	CredentialsInsecure = "insecure"
	CredentialsSSL      = "ssl"
)

var ErrBadCredentials = errors.New("bad channel credentials")

// Credentials describes transport security of a channel. PEM fields are
// optional; the key pair is only used when both key and chain are present.
type Credentials struct {
	Type               string
	RootCerts          string
	PrivateKey         string
	CertChain          string
	TargetNameOverride string
}

// ParseCredentials reads {"type":"insecure"|"ssl","rootCerts":..,
// "privateKey":..,"certChain":..,"targetNameOverride":..}.
func ParseCredentials(data []byte) (Credentials, error) {
	var c Credentials
	in := jlexer.Lexer{Data: data}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "type":
			c.Type = in.String()
		case "rootCerts":
			c.RootCerts = in.String()
		case "privateKey":
			c.PrivateKey = in.String()
		case "certChain":
			c.CertChain = in.String()
		case "targetNameOverride":
			c.TargetNameOverride = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()
	if err := in.Error(); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials json: %w", err)
	}
	return c, c.validate()
}

func (c Credentials) validate() error {
	switch c.Type {
	case CredentialsInsecure, CredentialsSSL:
		return nil
	default:
		return fmt.Errorf("%w: invalid credentials type %q", ErrBadCredentials, c.Type)
	}
}

// Transport builds grpc transport credentials.
func (c Credentials) Transport() (credentials.TransportCredentials, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Type == CredentialsInsecure {
		return insecure.NewCredentials(), nil
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.TargetNameOverride,
	}
	if c.RootCerts != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(c.RootCerts)) {
			return nil, fmt.Errorf("%w: no certificates in rootCerts", ErrBadCredentials)
		}
		cfg.RootCAs = pool
	}
	if c.PrivateKey != "" && c.CertChain != "" {
		cert, err := tls.X509KeyPair([]byte(c.CertChain), []byte(c.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: key pair: %w", ErrBadCredentials, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(cfg), nil
}
