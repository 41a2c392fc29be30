package dns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLookup map[string][]net.IP

func (s staticLookup) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ips, ok := s[network+" "+host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return ips, nil
}

func TestLookupV4(t *testing.T) {
	t.Parallel()

	r := NewResolverWith(staticLookup{
		"ip4 www.example.cz": {net.ParseIP("192.0.2.10"), net.ParseIP("192.0.2.11")},
		"ip4 empty.cz":       {},
	}, time.Second)

	addr, err := r.LookupV4(context.Background(), "www.example.cz")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", addr)

	_, err = r.LookupV4(context.Background(), "missing.cz")
	var dnsErr *net.DNSError
	assert.True(t, errors.As(err, &dnsErr))

	_, err = r.LookupV4(context.Background(), "empty.cz")
	assert.ErrorIs(t, err, ErrNoAddress)

	_, err = r.LookupV4(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestLookupV6(t *testing.T) {
	t.Parallel()

	r := NewResolverWith(staticLookup{
		"ip6 www.example.cz": {net.ParseIP("2001:db8::1")},
		"ip6 mapped.cz":      {net.ParseIP("192.0.2.1")},
	}, 0)

	assert.NoError(t, r.LookupV6(context.Background(), "www.example.cz"))
	assert.ErrorIs(t, r.LookupV6(context.Background(), "mapped.cz"), ErrNoAddress)
	assert.Error(t, r.LookupV6(context.Background(), "v4only.cz"))
}

func TestLookupHonoursContext(t *testing.T) {
	t.Parallel()

	r := NewResolverWith(staticLookup{"ip4 www.example.cz": {net.ParseIP("192.0.2.10")}}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.LookupV4(ctx, "www.example.cz")
	assert.ErrorIs(t, err, context.Canceled)
}
