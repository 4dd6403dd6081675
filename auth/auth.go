// Package auth provides per-call credential plugins. A plugin computes the
// metadata of every call synchronously; it is attached to a channel through
// PerRPC.
package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authorizationKey = "authorization"

type Plugin interface {
	// GetMetadata returns metadata for a call of service/method.
	// Errors carry a grpc status code.
	GetMetadata(ctx context.Context, service, method string) (metadata.MD, error)
}

type PluginFunc func(ctx context.Context, service, method string) (metadata.MD, error)

func (f PluginFunc) GetMetadata(ctx context.Context, service, method string) (metadata.MD, error) {
	return f(ctx, service, method)
}

// TokenProvider returns the current token.
type TokenProvider func(ctx context.Context) (string, error)

// Bearer sets "authorization: Bearer <token>". An empty token fails the call
// with Unauthenticated, a provider error with Internal.
type Bearer struct {
	provider TokenProvider
}

func StaticBearer(token string) *Bearer {
	return &Bearer{provider: func(context.Context) (string, error) { return token, nil }}
}

func BearerFrom(provider TokenProvider) *Bearer {
	return &Bearer{provider: provider}
}

func (b *Bearer) GetMetadata(ctx context.Context, _, _ string) (metadata.MD, error) {
	token, err := b.provider(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to get bearer token: %v", err)
	}
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "bearer token is empty")
	}
	return metadata.Pairs(authorizationKey, "Bearer "+token), nil
}

// AccessToken is an OAuth2 access token sent as a bearer authorization.
func AccessToken(token string) Plugin {
	return PluginFunc(func(context.Context, string, string) (metadata.MD, error) {
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "access token is empty")
		}
		return metadata.Pairs(authorizationKey, "Bearer "+token), nil
	})
}

// Custom attaches fixed key/value pairs to every call.
func Custom(kv map[string]string) Plugin {
	md := make(metadata.MD, len(kv))
	for k, v := range kv {
		md.Append(k, v)
	}
	return PluginFunc(func(context.Context, string, string) (metadata.MD, error) {
		return md.Copy(), nil
	})
}

// Composite merges the metadata of every plugin in order. The first error wins.
func Composite(plugins ...Plugin) Plugin {
	return PluginFunc(func(ctx context.Context, service, method string) (metadata.MD, error) {
		out := metadata.MD{}
		for _, p := range plugins {
			md, err := p.GetMetadata(ctx, service, method)
			if err != nil {
				return nil, err
			}
			out = metadata.Join(out, md)
		}
		return out, nil
	})
}

// PerRPC adapts a Plugin to grpc call credentials.
type PerRPC struct {
	plugin     Plugin
	requireTLS bool
}

var _ credentials.PerRPCCredentials = PerRPC{}

func NewPerRPC(p Plugin, requireTLS bool) PerRPC {
	return PerRPC{plugin: p, requireTLS: requireTLS}
}

func (c PerRPC) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	var service, method string
	if ri, ok := credentials.RequestInfoFromContext(ctx); ok {
		service, method = SplitMethod(ri.Method)
	}
	md, err := c.plugin.GetMetadata(ctx, service, method)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(md))
	for k, vs := range md {
		out[k] = strings.Join(vs, ",")
	}
	return out, nil
}

func (c PerRPC) RequireTransportSecurity() bool { return c.requireTLS }

// SplitMethod splits "/pkg.Service/Method" into service and method names.
func SplitMethod(full string) (service, method string) {
	full = strings.TrimPrefix(full, "/")
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}
