package gc_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gscript/internal/gc"
	"gscript/internal/value"
)

func newHeap(roots func(mark func(gc.Object))) *gc.Heap {
	return gc.NewHeap(roots, zerolog.Nop())
}

func TestFullCycleCollectsUnreachable(t *testing.T) {
	root := value.NewTable()
	dead := value.NewTable()

	roots := func(mark func(gc.Object)) { mark(root) }
	h := newHeap(roots)
	h.NewObject(root, 64)
	h.NewObject(dead, 64)

	h.FullGC(false)
	require.True(t, h.Contains(root))
	require.False(t, h.Contains(dead))

	before := h.Contains(root)
	h.FullGC(false) // a second run must free nothing new
	require.Equal(t, before, h.Contains(root))
}

func TestBlackNeverPointsWhiteAfterBarrier(t *testing.T) {
	root := value.NewTable()
	roots := func(mark func(gc.Object)) { mark(root) }
	h := newHeap(roots)
	h.NewObject(root, 64)

	h.Step() // pause: root grayed
	h.Step() // propagate: root scanned and blackened
	require.Equal(t, gc.StatePropagate, h.State())

	child := value.NewTable()
	h.NewObject(child, 64)

	h.Barrier().Backward(root)
	root.Set(value.Int(1), value.Object(value.TagTable, child))

	// The backward barrier demoted the black root to gray, so at no
	// observable point is a black root holding a white child.
	require.False(t, root.Header().IsWhite())

	// Completing the interrupted cycle must not sweep the child: the
	// demoted root is re-traversed in the atomic phase.
	h.FullGC(false)
	require.True(t, h.Contains(child))
}

func TestWeakValueTableClearsDeadEntries(t *testing.T) {
	wt := value.NewTable()
	mt := value.NewTable()
	wt.SetMetatable(mt, gc.WeakValues)

	live := value.NewTable()
	dead := value.NewTable()

	roots := func(mark func(gc.Object)) { mark(wt); mark(live) }
	h := newHeap(roots)
	h.NewObject(wt, 32)
	h.NewObject(mt, 32)
	h.NewObject(live, 32)
	h.NewObject(dead, 32)

	wt.Set(value.Int(1), value.Object(value.TagTable, live))
	wt.Set(value.Int(2), value.Object(value.TagTable, dead))

	h.FullGC(false)

	require.True(t, wt.Get(value.Int(1)).AsObject() != nil)
	require.True(t, wt.Get(value.Int(2)).IsNil())
}

func TestFinalizerResurrection(t *testing.T) {
	store := value.NewTable()
	obj := value.NewTable()
	ran := 0
	obj.SetFinalizer(func(t *value.Table) error {
		ran++
		store.Set(value.Int(1), value.Object(value.TagTable, obj))
		return nil
	})

	roots := func(mark func(gc.Object)) { mark(store) }
	h := newHeap(roots)
	h.NewObject(store, 32)
	h.NewObject(obj, 32)
	h.MarkFinalizable(obj)

	h.FullGC(false)
	require.Equal(t, 1, ran)
	require.False(t, store.Get(value.Int(1)).IsNil())

	h.FullGC(false)
	require.Equal(t, 1, ran, "finalizer must not run twice")
}

func TestUserdataFinalizerResurrection(t *testing.T) {
	store := value.NewTable()
	u := value.NewUserdata("payload")
	ran := 0
	u.SetFinalizer(func(ud *value.Userdata) error {
		ran++
		store.Set(value.Int(1), value.Object(value.TagUserdata, ud))
		return nil
	})

	roots := func(mark func(gc.Object)) { mark(store) }
	h := newHeap(roots)
	h.NewObject(store, 32)
	h.NewObject(u, 32)
	h.MarkFinalizable(u)

	h.FullGC(false)
	require.Equal(t, 1, ran)
	require.False(t, store.Get(value.Int(1)).IsNil())
	require.False(t, u.HasFinalizer(), "finalizer consumed after running once")

	h.FullGC(false)
	require.Equal(t, 1, ran, "finalizer must not run twice")
}

func TestMarkFinalizableTwiceIsIdempotent(t *testing.T) {
	obj := value.NewTable()
	obj.SetFinalizer(func(*value.Table) error { return nil })

	h := newHeap(func(mark func(gc.Object)) {})
	h.NewObject(obj, 32)
	h.MarkFinalizable(obj)
	// A second metatable install on the same object must not splice
	// finobj into itself; the cycles below would then never terminate.
	h.MarkFinalizable(obj)

	h.FullGC(false) // runs the finalizer, resurrecting obj onto allgc
	h.FullGC(false) // obj no longer finalizable: collected for real
	require.False(t, h.Contains(obj))
}
