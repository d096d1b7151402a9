package smpp

import "sync"

// submitOutcome resolves one in-flight submit_sm.
type submitOutcome struct {
	messageID string
	err       error
}

// submitWindow correlates submit_sm requests with their asynchronous
// responses by PDU sequence number. Multiple submissions may be in flight
// at once; each waiter is resolved exactly once (channels are buffered and
// removed from the map before the send).
type submitWindow struct {
	pending sync.Map // int32 -> chan submitOutcome
}

func newSubmitWindow() *submitWindow {
	return &submitWindow{}
}

// add registers a waiter for seq and returns the channel its outcome will
// arrive on.
func (w *submitWindow) add(seq int32) <-chan submitOutcome {
	ch := make(chan submitOutcome, 1)
	w.pending.Store(seq, ch)
	return ch
}

// resolve delivers the outcome for seq. It reports false when seq is
// unknown or already resolved.
func (w *submitWindow) resolve(seq int32, messageID string, err error) bool {
	val, loaded := w.pending.LoadAndDelete(seq)
	if !loaded {
		return false
	}
	val.(chan submitOutcome) <- submitOutcome{messageID: messageID, err: err}
	return true
}

// drop abandons the waiter for seq without resolving it (the caller has
// already given up on the response).
func (w *submitWindow) drop(seq int32) {
	w.pending.LoadAndDelete(seq)
}

// failAll resolves every outstanding waiter with err. Used when the
// session closes underneath in-flight submissions.
func (w *submitWindow) failAll(err error) {
	w.pending.Range(func(key, val any) bool {
		if _, loaded := w.pending.LoadAndDelete(key); loaded {
			val.(chan submitOutcome) <- submitOutcome{err: err}
		}
		return true
	})
}

// size returns the number of outstanding submissions.
func (w *submitWindow) size() int {
	n := 0
	w.pending.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
