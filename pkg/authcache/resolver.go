package authcache

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// Resolver reverse-resolves client addresses for literal-host grant
// matching. The lookup is slow blocking I/O, so it is bounded by a
// timeout, cached (failures included) and only ever invoked after the
// address-based path found nothing.
type Resolver struct {
	timeout time.Duration

	mu    sync.Mutex
	cache map[netip.Addr]string

	lookupAddr func(ctx context.Context, addr string) ([]string, error)
}

func NewResolver(timeout time.Duration) *Resolver {
	var r net.Resolver
	return &Resolver{
		timeout:    timeout,
		cache:      map[netip.Addr]string{},
		lookupAddr: r.LookupAddr,
	}
}

// ReverseLookup returns the hostname for an address, or false when the
// address does not resolve. Results, including negative ones, stick for
// the life of the resolver.
func (r *Resolver) ReverseLookup(ctx context.Context, addr netip.Addr) (string, bool) {
	r.mu.Lock()
	name, ok := r.cache[addr]
	r.mu.Unlock()
	if ok {
		return name, name != ""
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	names, err := r.lookupAddr(ctx, addr.String())
	name = ""
	if err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}

	r.mu.Lock()
	r.cache[addr] = name
	r.mu.Unlock()
	return name, name != ""
}
