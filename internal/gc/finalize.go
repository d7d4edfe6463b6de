package gc

// separateToBeFinalized scans finobj for objects that did not get
// marked this cycle, moves them to tobefnz, and re-marks them:
// resurrecting them, and anything they transitively reference, for
// one more cycle so the finalizer sees a live object.
func (h *Heap) separateToBeFinalized() {
	cursor := &h.finobj
	for *cursor != nil {
		obj := *cursor
		hdr := obj.Header()
		if hdr.isWhite() && !hdr.isFinalized() {
			*cursor = hdr.Next()
			hdr.SetNext(h.tobefnz)
			h.tobefnz = obj
			hdr.setFinalized()
			h.mark(obj)
			continue
		}
		cursor = headerNextSlot(hdr)
	}
}

// MarkFinalizable moves obj from allgc to finobj, so a future atomic
// phase considers it for finalization. Called when a metatable
// carrying __gc is installed on the object. A second install on an
// object already routed to finobj/tobefnz is a no-op: splicing it
// again would link the list to itself.
func (h *Heap) MarkFinalizable(obj Object) {
	hdr := obj.Header()
	if hdr.isFinobj() || !obj.HasFinalizer() {
		return
	}
	h.unlinkFromAllgc(obj)
	hdr.SetNext(h.finobj)
	h.finobj = obj
	hdr.setFinobj()
}

// runFinalizers pops up to n objects off tobefnz and calls their
// finalizer as ordinary user code. Callers invoke runFinalizers only
// from stepCallFin, which is already outside the stepping loop for
// any other phase, so a finalizer can never re-enter mark or sweep.
// Errors are reported to the log; GCMMError wrapping is
// internal/diag's concern, not the collector's.
func (h *Heap) runFinalizers(n int) int {
	ran := 0
	for ran < n && h.tobefnz != nil {
		obj := h.tobefnz
		h.tobefnz = obj.Header().Next()
		obj.Header().SetNext(nil)
		obj.Header().clearFinalized()
		obj.Header().clearFinobj()
		h.NewObject(obj, 0) // rejoin allgc, colored current-white: "live again"
		if err := obj.RunFinalizer(); err != nil {
			h.log.Error().Err(err).Msg("finalizer failed")
		}
		ran++
	}
	return ran
}
