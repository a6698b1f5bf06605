package persist

import (
	"context"
	"net/netip"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/masahide/mysql-auth-cache/pkg/authcache"
	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
)

func mustGrant(t *testing.T, user, host string, scope authcache.DBScope, cred string) authcache.GrantRecord {
	t.Helper()
	p, err := hostpattern.Parse(host)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", host, err)
	}
	return authcache.GrantRecord{
		GrantKey:   authcache.GrantKey{User: user, Host: p, HostRaw: host},
		Scope:      scope,
		Credential: cred,
	}
}

func openBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "authcache.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestCheckpointSeedRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openBridge(t)

	snap := authcache.NewSnapshot()
	grants := []authcache.GrantRecord{
		mustGrant(t, "alice", "10.0.%.%", authcache.AnyScope(), "aa"),
		mustGrant(t, "bob", "192.168.1.0/255.255.255.0", authcache.ExactScope("sales"), "bb"),
		mustGrant(t, "bob", "192.168.1.0/255.255.255.0", authcache.WildcardScope("test%"), "bb"),
		mustGrant(t, "carol", "%", authcache.DeniedScope(), ""),
		mustGrant(t, "dave", "10.0.0._", authcache.AnyScope(), "dd"),
	}
	for _, g := range grants {
		snap.Add(g)
	}
	catalog := authcache.NewCatalog()
	catalog.Add("sales")
	catalog.Add("test_db")

	if err := b.Checkpoint(ctx, snap, catalog); err != nil {
		t.Fatalf("Checkpoint error: %v", err)
	}

	seeded, seededCatalog, err := b.Seed(ctx, nil)
	if err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	if seeded.Entries() != snap.Entries() {
		t.Errorf("seeded entries = %d, want %d", seeded.Entries(), snap.Entries())
	}
	if diff := cmp.Diff(catalog.Names(), seededCatalog.Names()); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}

	var got []authcache.GrantRecord
	seeded.ForEach(func(rec authcache.GrantRecord) { got = append(got, rec) })
	sort.Slice(got, func(i, j int) bool {
		if got[i].User != got[j].User {
			return got[i].User < got[j].User
		}
		return got[i].Scope.Name < got[j].Scope.Name
	})
	want := []authcache.GrantRecord{grants[0], grants[1], grants[2], grants[3], grants[4]}
	addrCmp := cmp.Comparer(func(a, b netip.Addr) bool { return a == b })
	if diff := cmp.Diff(want, got, addrCmp); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	// Lookups against the seeded generation behave like the live one.
	q := authcache.Query{
		User: "bob",
		Host: hostpattern.FromAddr(netip.MustParseAddr("192.168.1.20")),
		DB:   "sales",
	}
	if cred, ok := seeded.Lookup(q); !ok || cred != "bb" {
		t.Errorf("seeded lookup = %q, %v", cred, ok)
	}
}

func TestCheckpointReplaces(t *testing.T) {
	ctx := context.Background()
	b := openBridge(t)

	first := authcache.NewSnapshot()
	first.Add(mustGrant(t, "old", "%", authcache.AnyScope(), "xx"))
	if err := b.Checkpoint(ctx, first, authcache.NewCatalog()); err != nil {
		t.Fatalf("Checkpoint error: %v", err)
	}

	second := authcache.NewSnapshot()
	second.Add(mustGrant(t, "new", "%", authcache.AnyScope(), "yy"))
	if err := b.Checkpoint(ctx, second, authcache.NewCatalog()); err != nil {
		t.Fatalf("Checkpoint error: %v", err)
	}

	seeded, _, err := b.Seed(ctx, nil)
	if err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	if seeded.Entries() != 1 {
		t.Fatalf("seeded entries = %d, want 1", seeded.Entries())
	}
	if _, ok := seeded.Lookup(authcache.Query{User: "old", Host: hostpattern.FromAddr(netip.MustParseAddr("1.2.3.4"))}); ok {
		t.Error("replaced row survived the checkpoint")
	}
}

func TestSeedLocalhostPolicy(t *testing.T) {
	ctx := context.Background()
	b := openBridge(t)

	snap := authcache.NewSnapshot()
	snap.Add(mustGrant(t, "", "127.0.0.1", authcache.DeniedScope(), ""))
	snap.Add(mustGrant(t, "app", "%", authcache.AnyScope(), "cc"))
	if err := b.Checkpoint(ctx, snap, authcache.NewCatalog()); err != nil {
		t.Fatalf("Checkpoint error: %v", err)
	}

	loopback := authcache.Query{
		User: "app",
		Host: hostpattern.FromAddr(netip.MustParseAddr("127.0.0.1")),
	}
	yes, no := true, false
	tests := []struct {
		name   string
		policy *bool
		want   bool
	}{
		{"auto forbids with anonymous account", nil, false},
		{"yes overrides", &yes, true},
		{"no overrides", &no, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seeded, _, err := b.Seed(ctx, tt.policy)
			if err != nil {
				t.Fatalf("Seed error: %v", err)
			}
			if _, ok := seeded.Lookup(loopback); ok != tt.want {
				t.Errorf("loopback lookup = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestSeedEmptyStore(t *testing.T) {
	b := openBridge(t)
	seeded, catalog, err := b.Seed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	if seeded.Entries() != 0 || catalog.Len() != 0 {
		t.Errorf("fresh store seeded %d entries, %d databases", seeded.Entries(), catalog.Len())
	}
}
