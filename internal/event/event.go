// Package event defines the tagged-union Event type carried over the SRMW
// queue (evqueue.Queue[Event]) from allocator fast paths to the ranking
// worker.
//
// © 2025 memtier authors. MIT License.
package event

// Type tags the variant stored in an Event.
type Type uint8

const (
	// CreateAdd records a fresh allocation: hash identifies its
	// call-site type, Addr/Size its block.
	CreateAdd Type = iota
	// DestroyRemove records that the block at Addr was freed.
	DestroyRemove
	// Realloc records that OldAddr was replaced by Addr, possibly with a
	// new Size (a no-op rename when Addr == OldAddr).
	Realloc
	// Touch records an access to the block covering Addr at Timestamp.
	Touch
	// SetTouchCallback installs an informational callback for the type
	// entry owning Addr; used by tests to observe worker-internal state
	// transitions without racing on it directly.
	SetTouchCallback
)

func (t Type) String() string {
	switch t {
	case CreateAdd:
		return "CREATE_ADD"
	case DestroyRemove:
		return "DESTROY_REMOVE"
	case Realloc:
		return "REALLOC"
	case Touch:
		return "TOUCH"
	case SetTouchCallback:
		return "SET_TOUCH_CALLBACK"
	default:
		return "UNKNOWN"
	}
}

// TouchCallback is an informational hook invoked by the ranking worker
// whenever the owning type entry is touched. It must not block.
type TouchCallback func(arg any, addr uintptr, timestampNS int64)

// Event is the tagged union pushed onto the SRMW queue. Only the fields
// relevant to Type are meaningful; others are zero.
type Event struct {
	Type Type

	Hash      uint64 // CreateAdd: call-site fingerprint
	Addr      uintptr
	OldAddr   uintptr // Realloc
	Size      int64
	Timestamp int64 // Touch: nanoseconds

	Callback    TouchCallback // SetTouchCallback
	CallbackArg any
}
