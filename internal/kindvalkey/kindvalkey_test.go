package kindvalkey

import (
	"os"
	"testing"

	"github.com/PatKamin/memtier/internal/kind"
)

// These tests dial a real Valkey/Redis instance; they only run when
// MEMTIER_VALKEY_ADDR names one reachable, mirroring the codeGROOVE
// persist/datastore tests' environment-gated integration style.
func newTestKind(t *testing.T) *Kind {
	t.Helper()
	addr := os.Getenv("MEMTIER_VALKEY_ADDR")
	if addr == "" {
		t.Skip("skipping integration test: MEMTIER_VALKEY_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.Addresses = []string{addr}
	k, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(k.Close)
	return k
}

func TestMallocFreeRoundTrip(t *testing.T) {
	k := newTestKind(t)
	addr, err := k.Malloc(32)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if !k.DetectKind(addr) {
		t.Fatal("DetectKind should be true for a live block")
	}
	if got := k.UsableSize(addr); got != 32 {
		t.Fatalf("UsableSize() = %d, want 32", got)
	}
	k.Free(addr)
	if k.DetectKind(addr) {
		t.Fatal("DetectKind should be false after Free")
	}
}

func TestReallocUnknownAddrBehavesLikeMalloc(t *testing.T) {
	k := newTestKind(t)
	addr, err := k.Realloc(kind.Addr(424242), 16)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if got := k.UsableSize(addr); got != 16 {
		t.Fatalf("UsableSize() = %d, want 16", got)
	}
}

func TestValkeyKeyEncodingIsStableAndDistinct(t *testing.T) {
	a := valkeyKey(kind.Addr(1))
	b := valkeyKey(kind.Addr(2))
	if a == b {
		t.Fatalf("distinct addresses must encode to distinct keys, got %q twice", a)
	}
	if valkeyKey(kind.Addr(1)) != a {
		t.Fatalf("encoding must be stable for the same address")
	}
}
