package gc

import (
	"math"

	"github.com/rs/zerolog"
)

// Heap is the collector's global state: the object lists (allgc,
// finobj, tobefnz, fixedgc, the gray worklists, and the three weak
// worklists) plus the debt-driven stepping knobs.
//
// Root marking is supplied by the embedder (internal/vm's Host) via a
// callback: the collector needs no knowledge of thread or globals
// structure.
type Heap struct {
	currentWhite byte
	state        State

	allgc   Object
	finobj  Object
	tobefnz Object
	fixedgc Object

	gray      []Object
	grayagain []Object

	weak      []Object
	ephemeron []Object
	allweak   []Object

	sweepCursor *Object

	totalBytes int64
	debt       int64
	threshold  int64

	GCPause    int // percent of live bytes setting the next threshold
	GCStepMul  int // percent scaling work done per debt increment
	GCFinNum   int // finalizers run per CallFin step
	emergency  bool
	stopped    bool

	markRoots func(mark func(Object))

	log zerolog.Logger
}

const (
	defaultGCPause   = 100
	defaultGCStepMul = 200
	defaultGCFinNum  = 1

	// sweepMax bounds how many list entries one Sweep-* step examines.
	sweepMax = 40
	// finalizeCost is not read by any step: a CallFin step runs up to
	// GCFinNum finalizers regardless of cost.
	finalizeCost = 50

	// stepWorkUnit is the nominal debt (in bytes) one bounded Step
	// retires, the conversion factor between allocation debt and the
	// per-increment loop in CheckGC.
	stepWorkUnit = 1 << 10
)

// NewHeap constructs a Heap with the default pause/stepmul knobs,
// starting in Pause state with white0 as current white.
func NewHeap(markRoots func(mark func(Object)), log zerolog.Logger) *Heap {
	h := &Heap{
		currentWhite: bitWhite0,
		state:        StatePause,
		GCPause:      defaultGCPause,
		GCStepMul:    defaultGCStepMul,
		GCFinNum:     defaultGCFinNum,
		markRoots:    markRoots,
		log:          log.With().Str("component", "gc").Logger(),
	}
	return h
}

// NewObject links obj into allgc, colors it current-white, and
// charges size bytes of allocation debt.
func (h *Heap) NewObject(obj Object, size int64) Object {
	hdr := obj.Header()
	hdr.makeWhite(h.currentWhite)
	hdr.SetNext(h.allgc)
	h.allgc = obj
	h.totalBytes += size
	h.debt += size
	return obj
}

// Fix moves obj onto fixedgc, the permanent-objects list, for objects
// that must outlive every GC cycle. Nothing in this module calls it.
func (h *Heap) Fix(obj Object) {
	h.unlinkFromAllgc(obj)
	obj.Header().SetNext(h.fixedgc)
	h.fixedgc = obj
}

func (h *Heap) unlinkFromAllgc(target Object) {
	cursor := &h.allgc
	for *cursor != nil {
		if *cursor == target {
			*cursor = target.Header().Next()
			return
		}
		cursor = headerNextSlot((*cursor).Header())
	}
}

// headerNextSlot exposes a writable pointer to h.next for splice
// operations that must update the previous link in place; valid only
// within package gc since Header.next is unexported.
func headerNextSlot(h *Header) *Object { return &h.next }

// Contains reports whether obj is still linked into any live list
// (allgc, finobj, or tobefnz). Used by diagnostics and by tests to
// observe sweep's effect without reaching into package-private lists.
func (h *Heap) Contains(obj Object) bool {
	for _, head := range [...]Object{h.allgc, h.finobj, h.tobefnz} {
		for cur := head; cur != nil; cur = cur.Header().Next() {
			if cur == obj {
				return true
			}
		}
	}
	return false
}

// State returns the collector's current phase.
func (h *Heap) State() State { return h.state }

// BytesInUse reports total bytes charged via NewObject. An
// approximation: frees are not sized individually, so the figure
// never decreases.
func (h *Heap) BytesInUse() int64 { return h.totalBytes }

// Debt reports the current allocation debt driving stepping.
func (h *Heap) Debt() int64 { return h.debt }

// CheckGC is called at allocating safe points. When debt has crossed
// zero it advances the collector by an amount of work proportional to
// the debt scaled by GCStepMul; while stopped, it is a no-op.
func (h *Heap) CheckGC() {
	if h.stopped || h.debt < 0 {
		return
	}
	budget := h.debt*int64(h.GCStepMul)/100 + stepWorkUnit
	for budget > 0 {
		h.Step()
		if h.state == StatePause {
			// Cycle complete: rebase debt against the new threshold.
			h.setPause()
			return
		}
		budget -= stepWorkUnit
	}
	// Budget exhausted mid-cycle; wait for more allocation before the
	// next increment.
	h.debt = -stepWorkUnit
}

// Stop disables debt-driven stepping until Restart; host-forced
// FullGC still works.
func (h *Heap) Stop()         { h.stopped = true }
func (h *Heap) Restart()      { h.stopped = false }
func (h *Heap) Stopped() bool { return h.stopped }

// SetPause and SetStepMul are the host tuning knobs, clamped so the
// threshold arithmetic in setPause cannot overflow or divide by
// zero.
func (h *Heap) SetPause(pct int)   { h.GCPause = clampKnob(pct) }
func (h *Heap) SetStepMul(pct int) { h.GCStepMul = clampKnob(pct) }

const maxKnob = 1_000_000

func clampKnob(pct int) int {
	if pct < 1 {
		return 1
	}
	if pct > maxKnob {
		return maxKnob
	}
	return pct
}

// setPause recomputes the allocation threshold after a completed
// cycle (live bytes scaled by GCPause percent) and rebases the debt
// so stepping resumes only once that much fresh allocation has
// accumulated.
func (h *Heap) setPause() {
	pause := int64(clampKnob(h.GCPause))
	var threshold int64
	if h.totalBytes > math.MaxInt64/pause {
		threshold = math.MaxInt64
	} else {
		threshold = h.totalBytes * pause / 100
	}
	h.threshold = threshold
	h.debt = h.totalBytes - threshold
}

// FullGC drives the state machine to completion (back to Pause)
// without yielding. In emergency mode (allocation failure) the cycle
// skips user finalizers, which could re-enter the VM.
func (h *Heap) FullGC(emergency bool) {
	h.emergency = emergency
	if h.state != StatePause {
		for h.state != StatePause {
			h.Step()
		}
	}
	h.Step() // Pause -> Propagate
	for h.state != StatePause {
		h.Step()
	}
	h.emergency = false
	h.setPause()
}
