// Package gc implements the incremental tri-color mark/sweep
// collector: the heap object model, the collector state machine,
// write barriers, and weak-table/finalizer handling.
package gc

// Color bits occupy the low bits of an object's marked byte: two
// alternating white bits, one black bit, one finalizer-queued bit.
// The current white flips each cycle, so survivors need no recoloring
// to stay live into the next cycle.
const (
	bitWhite0 = 1 << iota
	bitWhite1
	bitBlack
	bitFinalized
	// bitFinobj marks an object routed onto finobj/tobefnz, so a
	// repeated metatable install cannot splice it into finobj twice.
	bitFinobj
)

const whiteBits = bitWhite0 | bitWhite1

// Kind distinguishes the handful of heap object shapes the collector
// must traverse differently. Concrete types live in internal/value so
// that this package stays free of a dependency on it: values hold
// gc.Object references, and gc imports nothing from value.
type Kind uint8

const (
	KindString Kind = iota
	KindTable
	KindClosure
	KindUserdata
	KindThread
	KindPrototype
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindClosure:
		return "closure"
	case KindUserdata:
		return "userdata"
	case KindThread:
		return "thread"
	case KindPrototype:
		return "prototype"
	default:
		return "unknown"
	}
}

// WeakMode is a table's declared weakness: keys, values, or both.
type WeakMode uint8

const (
	WeakNone WeakMode = iota
	WeakKeys
	WeakValues
	WeakBoth
)

// Header is the common heap-object header: an intrusive next-link
// into exactly one global list, plus the marked byte's color bits.
// Concrete GC-managed types embed Header as their first field.
type Header struct {
	next   Object
	marked byte
}

// Next returns the header's intrusive list link.
func (h *Header) Next() Object { return h.next }

// SetNext rewires the intrusive list link; used only by the
// list-splice helpers in collector.go.
func (h *Header) SetNext(o Object) { h.next = o }

func (h *Header) isWhite() bool    { return h.marked&whiteBits != 0 }
func (h *Header) isBlack() bool    { return h.marked&bitBlack != 0 }
func (h *Header) isGray() bool     { return !h.isWhite() && !h.isBlack() }
func (h *Header) whiteBits() byte  { return h.marked & whiteBits }

// IsWhite exports the white test; the concrete heap types' own
// IsWhite methods (value.GCObject) delegate to it.
func (h *Header) IsWhite() bool { return h.isWhite() }

func (h *Header) white2gray() { h.marked &^= whiteBits }
func (h *Header) black2gray() { h.marked &^= bitBlack }
func (h *Header) gray2black() { h.marked |= bitBlack }

// makeWhite erases all color bits then sets only currentWhite: used
// both for fresh allocations and for recoloring survivors during a
// sweep.
func (h *Header) makeWhite(currentWhite byte) {
	h.marked = (h.marked &^ (bitBlack | whiteBits)) | currentWhite
}

func (h *Header) isFinalized() bool    { return h.marked&bitFinalized != 0 }
func (h *Header) setFinalized()        { h.marked |= bitFinalized }
func (h *Header) clearFinalized()      { h.marked &^= bitFinalized }

func (h *Header) isFinobj() bool    { return h.marked&bitFinobj != 0 }
func (h *Header) setFinobj()        { h.marked |= bitFinobj }
func (h *Header) clearFinobj()      { h.marked &^= bitFinobj }

// Object is satisfied by every GC-managed heap type. Concrete types
// (internal/value.LongString, .Table, .Closure, .Userdata, .Thread, and
// internal/code.Prototype) embed Header and implement Kind/Traverse/etc.
type Object interface {
	Header() *Header
	Kind() Kind

	// WeakMode reports the table's declared __mode weakness. Always
	// WeakNone for non-table kinds.
	WeakMode() WeakMode

	// Traverse marks every strongly-reachable child via mark. For a
	// table with WeakMode() != WeakNone, Traverse must not mark through
	// the weak side(s) of its entries; the collector instead relies on
	// TraverseEphemeron (for WeakKeys) during the atomic fixpoint, or
	// leaves WeakValues/WeakBoth entries to be cleared post-mark.
	Traverse(mark func(Object))

	// TraverseEphemeron marks the value of any entry whose key already
	// satisfies isMarked. Meaningful only for WeakKeys tables; other
	// kinds return false without side effects. Returns true if this
	// pass newly marked anything, driving the atomic-phase fixpoint.
	TraverseEphemeron(isMarked func(Object) bool, mark func(Object)) bool

	// ClearWeak nils out the weak side(s) of entries whose referent
	// never became reachable and purges fully-empty entries. Called only
	// after mark has reached a fixpoint, and only for WeakMode() !=
	// WeakNone objects.
	ClearWeak(isMarked func(Object) bool)

	// HasFinalizer reports whether a __gc metamethod is registered;
	// such objects live on finobj/tobefnz instead of allgc.
	HasFinalizer() bool

	// RunFinalizer invokes the __gc metamethod. Errors are the
	// caller's concern (finalize.go logs them and continues).
	RunFinalizer() error
}
