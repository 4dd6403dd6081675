package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestBearer(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	md, err := StaticBearer("abc").GetMetadata(ctx, "pkg.Svc", "Do")
	require.NoError(t, err)
	a.Equal([]string{"Bearer abc"}, md.Get("authorization"))

	_, err = StaticBearer("").GetMetadata(ctx, "pkg.Svc", "Do")
	a.Equal(codes.Unauthenticated, status.Code(err))

	_, err = BearerFrom(func(context.Context) (string, error) {
		return "", errors.New("vault down")
	}).GetMetadata(ctx, "pkg.Svc", "Do")
	a.Equal(codes.Internal, status.Code(err))

	calls := 0
	p := BearerFrom(func(context.Context) (string, error) {
		calls++
		return "t", nil
	})
	_, _ = p.GetMetadata(ctx, "", "")
	_, _ = p.GetMetadata(ctx, "", "")
	a.Equal(2, calls, "token is computed per call")
}

func TestAccessTokenAndCustom(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	_, err := AccessToken("").GetMetadata(ctx, "", "")
	a.Equal(codes.Unauthenticated, status.Code(err))

	md, err := Composite(AccessToken("tok"), Custom(map[string]string{"x-tenant": "7"})).GetMetadata(ctx, "", "")
	require.NoError(t, err)
	a.Equal(metadata.MD{"authorization": {"Bearer tok"}, "x-tenant": {"7"}}, md)
}

func TestPerRPC(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	var gotService, gotMethod string
	c := NewPerRPC(PluginFunc(func(_ context.Context, service, method string) (metadata.MD, error) {
		gotService, gotMethod = service, method
		return metadata.Pairs("k", "1", "k", "2"), nil
	}), true)

	m, err := c.GetRequestMetadata(context.Background(), "https://host/pkg.Svc")
	require.NoError(t, err)
	a.Equal(map[string]string{"k": "1,2"}, m)
	a.Empty(gotService)
	a.Empty(gotMethod)
	a.True(c.RequireTransportSecurity())
}

func TestSplitMethod(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	s, m := SplitMethod("/pkg.Echo/Say")
	a.Equal("pkg.Echo", s)
	a.Equal("Say", m)
	s, m = SplitMethod("Say")
	a.Empty(s)
	a.Equal("Say", m)
}
