package authcache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/rs/zerolog"
)

func testAuthenticator(t *testing.T, resolver *Resolver, grants ...GrantRecord) *Authenticator {
	t.Helper()
	snap := NewSnapshot()
	for _, g := range grants {
		snap.Add(g)
	}
	store := NewStore()
	if !store.Install(snap) {
		t.Fatal("Install refused the test snapshot")
	}
	return NewAuthenticator(store, resolver, zerolog.Nop())
}

func TestAuthenticatorValidate(t *testing.T) {
	scramble := []byte("abcd1234")
	a := testAuthenticator(t, nil,
		mustGrant(t, "bob", "10.0.%.%", AnyScope(), HashPassword("secret")),
	)

	attempt := Attempt{
		User:     "bob",
		Addr:     netip.MustParseAddr("10.0.5.9"),
		Database: "reports",
		Scramble: scramble,
		Token:    mysql.CalcPassword(scramble, []byte("secret")),
	}
	passthrough, ok := a.Validate(context.Background(), attempt)
	if !ok {
		t.Fatal("Validate rejected a valid attempt")
	}
	want := sha1.Sum([]byte("secret"))
	if !bytes.Equal(passthrough, want[:]) {
		t.Errorf("passthrough = %x, want %x", passthrough, want)
	}

	wrong := attempt
	wrong.Token = mysql.CalcPassword(scramble, []byte("hunter2"))
	if _, ok := a.Validate(context.Background(), wrong); ok {
		t.Error("Validate accepted a wrong password")
	}

	outside := attempt
	outside.Addr = netip.MustParseAddr("192.168.1.1")
	if _, ok := a.Validate(context.Background(), outside); ok {
		t.Error("Validate accepted an address outside the grant network")
	}

	unknown := attempt
	unknown.User = "mallory"
	if _, ok := a.Validate(context.Background(), unknown); ok {
		t.Error("Validate accepted an unknown user")
	}
}

func TestAuthenticatorOversizedFields(t *testing.T) {
	a := testAuthenticator(t, nil,
		mustGrant(t, "bob", "%", AnyScope(), ""),
	)
	big := make([]byte, MaxNameLen+1)
	for i := range big {
		big[i] = 'a'
	}
	attempt := Attempt{
		User: string(big),
		Addr: netip.MustParseAddr("10.0.5.9"),
	}
	if _, ok := a.Validate(context.Background(), attempt); ok {
		t.Error("Validate accepted an oversized user name")
	}
}

func TestAuthenticatorHostnameFallback(t *testing.T) {
	scramble := []byte("abcd1234")
	resolver := &Resolver{
		timeout: time.Second,
		cache:   map[netip.Addr]string{},
		lookupAddr: func(ctx context.Context, addr string) ([]string, error) {
			if addr != "10.0.5.9" {
				return nil, errors.New("unexpected address")
			}
			return []string{"10.0.5.9."}, nil
		},
	}
	a := testAuthenticator(t, resolver,
		mustGrant(t, "bob", "10.0.5._", AnyScope(), HashPassword("secret")),
	)

	attempt := Attempt{
		User:     "bob",
		Addr:     netip.MustParseAddr("10.0.5.9"),
		Scramble: scramble,
		Token:    mysql.CalcPassword(scramble, []byte("secret")),
	}
	if _, ok := a.Validate(context.Background(), attempt); !ok {
		t.Fatal("Validate did not fall back to the reverse-resolved hostname")
	}

	// Cached result, the injected lookup would reject a second address.
	other := attempt
	other.Addr = netip.MustParseAddr("10.0.5.10")
	resolver.cache[other.Addr] = ""
	if _, ok := a.Validate(context.Background(), other); ok {
		t.Error("Validate matched despite a negative reverse-lookup cache entry")
	}
}

func TestAuthenticatorNoFallbackWithoutLiteralGrants(t *testing.T) {
	called := false
	resolver := &Resolver{
		timeout: time.Second,
		cache:   map[netip.Addr]string{},
		lookupAddr: func(ctx context.Context, addr string) ([]string, error) {
			called = true
			return nil, errors.New("should not be reached")
		},
	}
	a := testAuthenticator(t, resolver,
		mustGrant(t, "bob", "10.0.0.0/255.255.255.0", AnyScope(), ""),
	)
	attempt := Attempt{
		User: "bob",
		Addr: netip.MustParseAddr("192.168.1.1"),
	}
	if _, ok := a.Validate(context.Background(), attempt); ok {
		t.Error("Validate accepted an address outside every grant")
	}
	if called {
		t.Error("reverse lookup ran although no literal-host grant exists")
	}
}
