// Package fingerprint implements the backtrace-hash fingerprinter (C4): it
// maps an allocation's call site to a stable 64-bit identifier so that
// hotness can be tracked per call-site *type* rather than per individual
// object (two objects allocated from the same line of code share one
// ranking-tree entry).
//
// The spec's reference design walks raw stack frames from a recorded stack
// top to a platform-queried thread-stack bottom. Go does not expose either
// of those to user code (goroutines are not OS threads and their stacks
// move), so this implementation substitutes runtime.Callers, which is the
// portable, idiomatic Go way to recover a call stack; the interface below
// keeps the mechanism pluggable, matching the spec's explicit design note
// that fingerprinting should stay swappable.
//
// © 2025 memtier authors. MIT License.
package fingerprint

import (
	"encoding/binary"
	"runtime"

	"github.com/cespare/xxhash/v2"
)

// Fingerprinter produces a deterministic 64-bit identifier for the calling
// call site, mixed with the allocation size.
type Fingerprinter interface {
	Fingerprint(size int) uint64
}

// maxFrames bounds how many return addresses are mixed into the hash.
// Beyond this depth, additional frames (recursion, deep call chains)
// contribute nothing further — they rarely distinguish call sites that the
// first few frames didn't already separate.
const maxFrames = 32

// stack walks runtime.Callers starting `skip` frames above its own caller.
type stack struct {
	skip int
}

// New constructs a Fingerprinter. skip is the number of additional stack
// frames to discard beyond Fingerprint's own frame and stack.mix's —
// callers embedding this type one level deeper than the allocation façade
// should pass skip=1, etc.
func New(skip int) Fingerprinter {
	return &stack{skip: skip}
}

// Fingerprint implements Fingerprinter.
func (s *stack) Fingerprint(size int) uint64 {
	return xxhash.Sum64(s.mix(size))
}

func (s *stack) mix(size int) []byte {
	var pcs [maxFrames]uintptr
	n := runtime.Callers(3+s.skip, pcs[:])

	buf := make([]byte, 0, (n+1)*8)
	var b8 [8]byte
	for _, pc := range pcs[:n] {
		binary.LittleEndian.PutUint64(b8[:], uint64(pc))
		buf = append(buf, b8[:]...)
	}
	binary.LittleEndian.PutUint64(b8[:], uint64(size))
	buf = append(buf, b8[:]...)
	return buf
}

// Static is a Fingerprinter that always returns a caller-chosen hash,
// ignoring the real call stack. It exists for tests and for callers that
// already know their call-site identity (e.g. a C API shim that passes the
// fingerprint down from the original native frame).
type Static uint64

// Fingerprint implements Fingerprinter. The stored hash is XOR-mixed with
// an xxhash of size (the stack-walking Fingerprinter instead hashes size
// together with the frame addresses), so two Static fingerprints with the
// same base value still separate by allocation size — mirroring the spec's
// "XOR-mixed with the allocation size" contract.
func (h Static) Fingerprint(size int) uint64 {
	return uint64(h) ^ (xxhash.Sum64(sizeBytes(size)))
}

func sizeBytes(size int) []byte {
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(size))
	return b8[:]
}
