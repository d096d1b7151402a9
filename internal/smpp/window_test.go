package smpp

import (
	"errors"
	"sync"
	"testing"
)

func TestSubmitWindow_ResolveDeliversOutcome(t *testing.T) {
	t.Parallel()

	w := newSubmitWindow()
	ch := w.add(7)

	if !w.resolve(7, "carrier-id-1", nil) {
		t.Fatal("resolve() = false for registered sequence")
	}

	out := <-ch
	if out.err != nil || out.messageID != "carrier-id-1" {
		t.Fatalf("outcome = %+v, want messageID carrier-id-1", out)
	}
	if w.size() != 0 {
		t.Fatalf("size() = %d after resolve, want 0", w.size())
	}
}

func TestSubmitWindow_ResolveExactlyOnce(t *testing.T) {
	t.Parallel()

	w := newSubmitWindow()
	ch := w.add(7)

	// Race several resolvers for the same sequence; exactly one must win.
	const racers = 8
	wins := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins <- w.resolve(7, "id", nil)
		}(i)
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("resolve() succeeded %d times, want exactly 1", won)
	}
	if len(ch) != 1 {
		t.Fatalf("channel holds %d outcomes, want 1", len(ch))
	}
}

func TestSubmitWindow_ResolveUnknownSequence(t *testing.T) {
	t.Parallel()

	w := newSubmitWindow()
	if w.resolve(99, "id", nil) {
		t.Fatal("resolve() = true for unknown sequence")
	}
}

func TestSubmitWindow_DropAbandonsWaiter(t *testing.T) {
	t.Parallel()

	w := newSubmitWindow()
	ch := w.add(3)
	w.drop(3)

	if w.resolve(3, "id", nil) {
		t.Fatal("resolve() = true after drop")
	}
	if len(ch) != 0 {
		t.Fatal("dropped waiter received an outcome")
	}
}

func TestSubmitWindow_FailAll(t *testing.T) {
	t.Parallel()

	w := newSubmitWindow()
	chans := []<-chan submitOutcome{w.add(1), w.add(2), w.add(3)}

	w.failAll(ErrSessionClosed)

	for i, ch := range chans {
		out := <-ch
		if !errors.Is(out.err, ErrSessionClosed) {
			t.Fatalf("waiter %d: err = %v, want ErrSessionClosed", i, out.err)
		}
	}
	if w.size() != 0 {
		t.Fatalf("size() = %d after failAll, want 0", w.size())
	}
}
