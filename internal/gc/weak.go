package gc

// ephemeronFixpoint drives the atomic-phase ephemeron loop:
// repeatedly ask every weak-key table to mark any value whose key is
// already reachable, and fully propagate whatever that marks, until a
// pass makes no progress. A newly marked value can make another
// table's key reachable, so a single pass is not enough.
func (h *Heap) ephemeronFixpoint() {
	for {
		progressed := false
		for _, obj := range h.ephemeron {
			if obj.TraverseEphemeron(isMarkedFn, h.mark) {
				progressed = true
			}
		}
		if len(h.gray) > 0 {
			h.drainGray()
		}
		if !progressed {
			return
		}
	}
}

func isMarkedFn(obj Object) bool {
	return !obj.Header().isWhite()
}

// clearWeakList runs ClearWeak on every table in list: entries whose
// cleared side is unreached have that side overwritten with nil, and
// fully-emptied entries are purged.
func (h *Heap) clearWeakList(list []Object) {
	for _, obj := range list {
		obj.ClearWeak(isMarkedFn)
	}
}
