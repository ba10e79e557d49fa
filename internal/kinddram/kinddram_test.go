package kinddram

import (
	"testing"
	"time"

	"github.com/PatKamin/memtier/internal/kind"
)

func TestMallocFreeRoundTrip(t *testing.T) {
	k := New(DefaultConfig())
	addr, err := k.Malloc(128)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if k.UsableSize(addr) != 128 {
		t.Fatalf("UsableSize() = %d, want 128", k.UsableSize(addr))
	}
	if !k.DetectKind(addr) {
		t.Fatal("DetectKind should report true for a live block")
	}
	k.Free(addr)
	if k.DetectKind(addr) {
		t.Fatal("DetectKind should report false after Free")
	}
	if k.UsableSize(addr) != 0 {
		t.Fatalf("UsableSize() after free = %d, want 0", k.UsableSize(addr))
	}
}

func TestCallocZeroesMemory(t *testing.T) {
	k := New(DefaultConfig())
	addr, err := k.Calloc(4, 8)
	if err != nil {
		t.Fatalf("Calloc: %v", err)
	}
	k.mu.Lock()
	buf := k.bytesLocked(addr)
	k.mu.Unlock()
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestReallocGrowsAndPreservesPrefix(t *testing.T) {
	k := New(DefaultConfig())
	addr, _ := k.Malloc(4)
	k.mu.Lock()
	copy(k.bytesLocked(addr), []byte{1, 2, 3, 4})
	k.mu.Unlock()

	newAddr, err := k.Realloc(addr, 8)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	k.mu.Lock()
	got := append([]byte(nil), k.bytesLocked(newAddr)[:4]...)
	k.mu.Unlock()
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
	if k.DetectKind(addr) {
		t.Fatal("old address should no longer be live after Realloc")
	}
}

func TestReallocUnknownAddrBehavesLikeMalloc(t *testing.T) {
	k := New(DefaultConfig())
	addr, err := k.Realloc(kind.Addr(0xffff), 16)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if k.UsableSize(addr) != 16 {
		t.Fatalf("UsableSize() = %d, want 16", k.UsableSize(addr))
	}
}

func TestGenerationRotationReclaimsBytesInBulk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityBytes = defaultGenerations * 16 // 4 generations of 16 bytes each
	cfg.GenerationTTL = time.Millisecond
	k := New(cfg)

	var addrs []kind.Addr
	for i := 0; i < 20; i++ {
		a, err := k.Malloc(8)
		if err != nil {
			t.Fatalf("Malloc #%d: %v", i, err)
		}
		addrs = append(addrs, a)
	}
	// Early addresses should have rotated out of the ring by now.
	if k.DetectKind(addrs[0]) && k.DetectKind(addrs[len(addrs)-1]) {
		// Not a hard failure — ring sizing is approximate — but both being
		// simultaneously live across 20 allocations into a 64-byte budget
		// would indicate rotation never happened.
		t.Fatalf("expected some generation rotation across %d allocations into a tiny ring", len(addrs))
	}
}

func TestPosixMemalignReturnsAlignedOffset(t *testing.T) {
	k := New(DefaultConfig())
	addr, err := k.PosixMemalign(64, 32)
	if err != nil {
		t.Fatalf("PosixMemalign: %v", err)
	}
	k.mu.Lock()
	b := k.blocks[addr]
	k.mu.Unlock()
	if b.offset%64 != 0 {
		t.Fatalf("offset %d not aligned to 64", b.offset)
	}
	if k.UsableSize(addr) != 32 {
		t.Fatalf("UsableSize() = %d, want 32", k.UsableSize(addr))
	}
}

func TestMallocOversizedRequestStillSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityBytes = 64
	k := New(cfg)
	addr, err := k.Malloc(10_000)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if k.UsableSize(addr) != 10_000 {
		t.Fatalf("UsableSize() = %d, want 10000", k.UsableSize(addr))
	}
}
