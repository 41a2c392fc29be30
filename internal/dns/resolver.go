// Package dns probes the address records of a page's host.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNoAddress is returned when a lookup succeeds without any usable record
var ErrNoAddress = errors.New("no address found")

// Lookuper is the subset of net.Resolver used by the probe
type Lookuper interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Resolver answers the two questions a page record needs: the first IPv4
// address of a host and whether it publishes any IPv6 address
type Resolver struct {
	lookup  Lookuper
	timeout time.Duration
}

// NewResolver creates a resolver over net.DefaultResolver. A non-positive
// timeout leaves lookups bounded only by the caller's context.
func NewResolver(timeout time.Duration) *Resolver {
	return NewResolverWith(net.DefaultResolver, timeout)
}

// NewResolverWith creates a resolver over a custom lookup implementation
func NewResolverWith(lookup Lookuper, timeout time.Duration) *Resolver {
	return &Resolver{lookup: lookup, timeout: timeout}
}

// LookupV4 returns the first A record of host
func (r *Resolver) LookupV4(ctx context.Context, host string) (string, error) {
	ips, err := r.lookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("%w: A %s", ErrNoAddress, host)
}

// LookupV6 succeeds when host has at least one AAAA record
func (r *Resolver) LookupV6(ctx context.Context, host string) error {
	ips, err := r.lookupIP(ctx, "ip6", host)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			return nil
		}
	}
	return fmt.Errorf("%w: AAAA %s", ErrNoAddress, host)
}

func (r *Resolver) lookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrNoAddress)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ips, err := r.lookup.LookupIP(ctx, network, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s (%s): %w", host, network, err)
	}
	return ips, nil
}
