package gc

// State names the collector's phase. The numeric values carry no
// external meaning.
type State uint8

const (
	StatePause State = iota
	StatePropagate
	StateAtomic
	StateSweepAllgc
	StateSweepFinobj
	StateSweepTobefnz
	StateSweepEnd
	StateCallFin
)

func (s State) String() string {
	switch s {
	case StatePause:
		return "pause"
	case StatePropagate:
		return "propagate"
	case StateAtomic:
		return "atomic"
	case StateSweepAllgc:
		return "sweep-allgc"
	case StateSweepFinobj:
		return "sweep-finobj"
	case StateSweepTobefnz:
		return "sweep-tobefnz"
	case StateSweepEnd:
		return "sweep-end"
	case StateCallFin:
		return "callfin"
	default:
		return "unknown"
	}
}

// Step advances the collector by one bounded unit of work.
func (h *Heap) Step() {
	before := h.state
	switch h.state {
	case StatePause:
		h.stepPause()
	case StatePropagate:
		h.stepPropagate()
	case StateAtomic:
		h.stepAtomic()
	case StateSweepAllgc:
		h.stepSweep(&h.allgc, StateSweepFinobj)
	case StateSweepFinobj:
		h.stepSweep(&h.finobj, StateSweepTobefnz)
	case StateSweepTobefnz:
		h.stepSweep(&h.tobefnz, StateSweepEnd)
	case StateSweepEnd:
		h.stepSweepEnd()
	case StateCallFin:
		h.stepCallFin()
	}
	if h.state != before {
		h.log.Debug().Str("from", before.String()).Str("to", h.state.String()).Msg("gc phase transition")
	}
}

// mark colors obj gray and enqueues it, unless it is already
// non-white (already marked this cycle): the one operation every
// phase and every barrier funnels through.
func (h *Heap) mark(obj Object) {
	if obj == nil {
		return
	}
	hdr := obj.Header()
	if !hdr.isWhite() {
		return
	}
	hdr.white2gray()
	h.gray = append(h.gray, obj)
}

func (h *Heap) stepPause() {
	if h.markRoots != nil {
		h.markRoots(h.mark)
	}
	// The previous cycle's finalizer queue is part of the root set:
	// entries still waiting to run must survive this cycle's sweep.
	for o := h.tobefnz; o != nil; o = o.Header().Next() {
		h.mark(o)
	}
	h.state = StatePropagate
}

func (h *Heap) stepPropagate() {
	if len(h.gray) == 0 {
		h.state = StateAtomic
		return
	}
	n := len(h.gray)
	obj := h.gray[n-1]
	h.gray = h.gray[:n-1]
	h.propagateOne(obj)
}

// propagateOne marks obj's strong referents and blackens it, unless
// it is a declared-weak table: blackening a table whose weak side
// still points at white objects would break the no-black-to-white
// invariant, so weak tables are instead routed onto the appropriate
// atomic-phase worklist and left gray until the atomic phase resolves
// them.
func (h *Heap) propagateOne(obj Object) {
	mode := obj.WeakMode()
	if mode != WeakNone {
		switch mode {
		case WeakKeys:
			h.ephemeron = append(h.ephemeron, obj)
		case WeakValues:
			h.weak = append(h.weak, obj)
		case WeakBoth:
			h.allweak = append(h.allweak, obj)
		}
		obj.Traverse(h.mark) // marks only the strong side(s), if any
		return
	}
	obj.Traverse(h.mark)
	obj.Header().gray2black()
}

// stepAtomic runs the one-shot atomic phase: not incremental, since
// it must observe a consistent snapshot. Incremental propagation can
// miss writes made between a gray object's scan and its children's;
// barriers catch the observed ones, and this phase closes the rest.
func (h *Heap) stepAtomic() {
	if h.markRoots != nil {
		h.markRoots(h.mark)
	}
	h.drainGrayAgain()
	h.ephemeronFixpoint()
	h.clearWeakList(h.weak)
	h.separateToBeFinalized()
	h.drainGray()
	h.ephemeronFixpoint()
	h.clearWeakList(h.ephemeron)
	h.clearWeakList(h.allweak)
	h.weak, h.ephemeron, h.allweak = nil, nil, nil

	h.currentWhite ^= whiteBits
	h.sweepCursor = nil
	h.state = StateSweepAllgc
}

// drainGrayAgain re-traverses every table a backward barrier demoted
// during incremental mark, fully this time since the atomic phase is
// not incremental.
func (h *Heap) drainGrayAgain() {
	again := h.grayagain
	h.grayagain = nil
	for _, obj := range again {
		h.gray = append(h.gray, obj)
	}
	h.drainGray()
}

// drainGray runs propagate to completion; used only inside the
// atomic phase, where unboundedness is the point.
func (h *Heap) drainGray() {
	for len(h.gray) > 0 {
		n := len(h.gray)
		obj := h.gray[n-1]
		h.gray = h.gray[:n-1]
		h.propagateOne(obj)
	}
}

func (h *Heap) stepSweepEnd() {
	// There is no global main-thread object distinct from the Thread
	// values callers manage themselves, so Sweep-end is a pass-through
	// to CallFin.
	h.state = StateCallFin
}

// stepSweep walks up to sweepMax entries of the list rooted at head,
// freeing objects carrying the previous cycle's white and recoloring
// survivors to the current white. head is a pointer to the Heap field
// holding the list's root (&h.allgc etc.) so the cursor can splice
// dead entries out in place across multiple bounded steps.
func (h *Heap) stepSweep(head *Object, next State) {
	if h.sweepCursor == nil {
		h.sweepCursor = head
	}
	otherWhite := h.currentWhite ^ whiteBits
	budget := sweepMax
	for budget > 0 {
		obj := *h.sweepCursor
		if obj == nil {
			h.sweepCursor = nil
			h.state = next
			return
		}
		hdr := obj.Header()
		if hdr.marked&otherWhite != 0 {
			*h.sweepCursor = hdr.Next()
		} else {
			hdr.black2gray()
			hdr.makeWhite(h.currentWhite)
			h.sweepCursor = headerNextSlot(hdr)
		}
		budget--
	}
}

func (h *Heap) stepCallFin() {
	if h.emergency {
		// An emergency cycle must not run user code; pending
		// finalizers stay queued for the next normal cycle.
		h.state = StatePause
		return
	}
	h.runFinalizers(h.GCFinNum)
	if h.tobefnz == nil {
		h.state = StatePause
	}
}
