package engine

// seqWindowSize is the per-symbol ring of recently seen sequence
// numbers. 1024 covers several minutes of burst traffic on one symbol;
// anything older has long been acted on.
const seqWindowSize = 1024

// seqWindow remembers recently observed (epoch, seqNo) pairs for one
// symbol. Not goroutine-safe: each copier worker owns the windows for
// the symbols routed to it.
type seqWindow struct {
	epoch uint64
	seen  map[uint64]struct{}
	ring  [seqWindowSize]uint64
	next  int
	count int
}

func newSeqWindow() *seqWindow {
	return &seqWindow{seen: make(map[uint64]struct{}, seqWindowSize)}
}

// Observe records a sequence number and reports whether it was already
// in the window. A new connection epoch resets the window: brokers
// restart their counters per session, so cross-epoch numbers never
// collide meaningfully.
func (w *seqWindow) Observe(epoch, seqNo uint64) (duplicate bool) {
	if epoch != w.epoch {
		w.epoch = epoch
		w.seen = make(map[uint64]struct{}, seqWindowSize)
		w.next = 0
		w.count = 0
	}

	if _, ok := w.seen[seqNo]; ok {
		return true
	}

	if w.count == seqWindowSize {
		delete(w.seen, w.ring[w.next])
	} else {
		w.count++
	}
	w.ring[w.next] = seqNo
	w.next = (w.next + 1) % seqWindowSize
	w.seen[seqNo] = struct{}{}
	return false
}
