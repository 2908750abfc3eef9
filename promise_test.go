package promise

import (
	"errors"
	"sync"
	"testing"
)

func TestPromiseFulfillDrainsInRegistrationOrder(t *testing.T) {
	p := New[int]()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		p.OnFulfilled(func(v int) {
			order = append(order, i)
			if v != 42 {
				t.Errorf("Callback %d got %v, expected 42", i, v)
			}
		})
	}

	if err := p.Fulfill(42); err != nil {
		t.Fatalf("Fulfill returned %v", err)
	}

	if len(order) != 5 {
		t.Fatalf("Expected 5 callbacks, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("Position %d ran callback %d, expected FIFO order", i, got)
		}
	}
}

func TestPromiseFailDrainsInRegistrationOrder(t *testing.T) {
	p := New[string]()
	boom := errors.New("boom")

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		p.OnFailed(func(err error) {
			order = append(order, i)
			if !errors.Is(err, boom) {
				t.Errorf("Callback %d got %v, expected boom", i, err)
			}
		})
	}

	if err := p.Fail(boom); err != nil {
		t.Fatalf("Fail returned %v", err)
	}

	if len(order) != 5 {
		t.Fatalf("Expected 5 callbacks, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("Position %d ran callback %d, expected FIFO order", i, got)
		}
	}
}

func TestPromiseSettlesExactlyOnce(t *testing.T) {
	p := New[int]()
	if err := p.Fulfill(1); err != nil {
		t.Fatalf("First Fulfill returned %v", err)
	}

	err := p.Fulfill(2)
	var resolved *AlreadyResolvedError
	if !errors.As(err, &resolved) {
		t.Fatalf("Second Fulfill returned %T, expected *AlreadyResolvedError", err)
	}
	if resolved.State != Fulfilled {
		t.Errorf("Got state %v, expected Fulfilled", resolved.State)
	}

	err = p.Fail(errors.New("late"))
	if !errors.As(err, &resolved) {
		t.Fatalf("Fail after Fulfill returned %T, expected *AlreadyResolvedError", err)
	}

	if got := p.Value(); got != 1 {
		t.Errorf("Value is %v, expected the first fulfillment to stick", got)
	}
	if err := p.Err(); err != nil {
		t.Errorf("Err is %v, expected nil on a Fulfilled promise", err)
	}
}

func TestPromiseFailThenFulfillRejected(t *testing.T) {
	p := New[int]()
	boom := errors.New("boom")
	if err := p.Fail(boom); err != nil {
		t.Fatalf("Fail returned %v", err)
	}

	err := p.Fulfill(7)
	var resolved *AlreadyResolvedError
	if !errors.As(err, &resolved) {
		t.Fatalf("Fulfill after Fail returned %T, expected *AlreadyResolvedError", err)
	}
	if resolved.State != Failed {
		t.Errorf("Got state %v, expected Failed", resolved.State)
	}
	if !errors.Is(p.Err(), boom) {
		t.Errorf("Err is %v, expected the original failure to stick", p.Err())
	}
	if got := p.Value(); got != 0 {
		t.Errorf("Value is %v, expected zero on a Failed promise", got)
	}
}

func TestPromiseCallbackAfterSettlementRunsImmediately(t *testing.T) {
	p := New[int]()
	if err := p.Fulfill(9); err != nil {
		t.Fatalf("Fulfill returned %v", err)
	}

	ran := false
	p.OnFulfilled(func(v int) {
		ran = true
		if v != 9 {
			t.Errorf("Got %v, expected 9", v)
		}
	})
	if !ran {
		t.Error("OnFulfilled on a Fulfilled promise did not run synchronously")
	}

	q := New[int]()
	boom := errors.New("boom")
	if err := q.Fail(boom); err != nil {
		t.Fatalf("Fail returned %v", err)
	}

	ran = false
	q.OnFailed(func(err error) {
		ran = true
		if !errors.Is(err, boom) {
			t.Errorf("Got %v, expected boom", err)
		}
	})
	if !ran {
		t.Error("OnFailed on a Failed promise did not run synchronously")
	}
}

func TestPromiseDiscardsOppositeQueue(t *testing.T) {
	p := New[int]()

	p.OnFailed(func(err error) {
		t.Errorf("Failure callback ran on fulfillment with %v", err)
	})
	p.OnFulfilled(func(int) {})

	if err := p.Fulfill(1); err != nil {
		t.Fatalf("Fulfill returned %v", err)
	}

	// Both queues must be released after settlement.
	p.mu.Lock()
	if len(p.onFulfilled) != 0 || len(p.onFailed) != 0 {
		t.Errorf("Queues not cleared after settle: %d fulfilled, %d failed",
			len(p.onFulfilled), len(p.onFailed))
	}
	p.mu.Unlock()

	q := New[int]()
	q.OnFulfilled(func(v int) {
		t.Errorf("Fulfillment callback ran on failure with %v", v)
	})
	if err := q.Fail(errors.New("boom")); err != nil {
		t.Fatalf("Fail returned %v", err)
	}
}

func TestPromiseCallbackPanicDoesNotBreakDrain(t *testing.T) {
	p := New[int]()

	var after bool
	p.OnFulfilled(func(int) { panic("callback exploded") })
	p.OnFulfilled(func(int) { after = true })

	if err := p.Fulfill(1); err != nil {
		t.Fatalf("Fulfill returned %v despite recovered callback panic", err)
	}
	if !after {
		t.Error("Callback after the panicking one did not run")
	}
	if p.State() != Fulfilled {
		t.Errorf("State is %v, expected Fulfilled", p.State())
	}
}

func TestPromiseReentrantRegistrationDuringDrain(t *testing.T) {
	p := New[int]()

	var innerRan bool
	p.OnFulfilled(func(v int) {
		// Registered mid-drain: the promise is already Fulfilled, so this
		// must run synchronously inside the outer callback.
		p.OnFulfilled(func(u int) {
			innerRan = true
			if u != v {
				t.Errorf("Inner got %v, expected %v", u, v)
			}
		})
		if !innerRan {
			t.Error("Inner callback was queued instead of run immediately")
		}
	})

	if err := p.Fulfill(3); err != nil {
		t.Fatalf("Fulfill returned %v", err)
	}
	if !innerRan {
		t.Error("Inner callback never ran")
	}
}

func TestPromiseFailNilErrorNormalized(t *testing.T) {
	p := New[int]()
	if err := p.Fail(nil); err != nil {
		t.Fatalf("Fail(nil) returned %v", err)
	}
	if p.State() != Failed {
		t.Errorf("State is %v, expected Failed", p.State())
	}
	if p.Err() == nil {
		t.Error("Err is nil, expected a placeholder failure error")
	}
}

func TestPromiseNilCallbackIgnored(t *testing.T) {
	p := New[int]()
	p.OnFulfilled(nil)
	p.OnFailed(nil)

	p.mu.Lock()
	if len(p.onFulfilled) != 0 || len(p.onFailed) != 0 {
		t.Errorf("Nil callbacks were queued: %d fulfilled, %d failed",
			len(p.onFulfilled), len(p.onFailed))
	}
	p.mu.Unlock()

	if err := p.Fulfill(1); err != nil {
		t.Fatalf("Fulfill returned %v", err)
	}
}

func TestPromiseAccessorsWhilePending(t *testing.T) {
	p := New[string]()
	if p.State() != Pending {
		t.Errorf("State is %v, expected Pending", p.State())
	}
	if got := p.Value(); got != "" {
		t.Errorf("Value is %q, expected zero while Pending", got)
	}
	if err := p.Err(); err != nil {
		t.Errorf("Err is %v, expected nil while Pending", err)
	}
}

func TestForwardFailureToPropagatesError(t *testing.T) {
	p := New[int]()
	target := New[string]()
	boom := errors.New("boom")

	p.ForwardFailureTo(target)
	if err := p.Fail(boom); err != nil {
		t.Fatalf("Fail returned %v", err)
	}

	if target.State() != Failed {
		t.Fatalf("Target state is %v, expected Failed", target.State())
	}
	if !errors.Is(target.Err(), boom) {
		t.Errorf("Target error is %v, expected boom", target.Err())
	}
}

func TestForwardFailureToIgnoresFulfillment(t *testing.T) {
	p := New[int]()
	target := New[string]()

	p.ForwardFailureTo(target)
	if err := p.Fulfill(1); err != nil {
		t.Fatalf("Fulfill returned %v", err)
	}

	if target.State() != Pending {
		t.Errorf("Target state is %v, expected Pending", target.State())
	}
}

func TestForwardFailureToSettledTarget(t *testing.T) {
	p := New[int]()
	target := New[string]()
	if err := target.Fulfill("already"); err != nil {
		t.Fatalf("Fulfill returned %v", err)
	}

	p.ForwardFailureTo(target)
	// The forward finds the target settled; the conflict is logged, not
	// propagated, and the target keeps its original settlement.
	if err := p.Fail(errors.New("boom")); err != nil {
		t.Fatalf("Fail returned %v", err)
	}

	if target.State() != Fulfilled {
		t.Errorf("Target state is %v, expected Fulfilled", target.State())
	}
	if got := target.Value(); got != "already" {
		t.Errorf("Target value is %q, expected original settlement", got)
	}
}

func TestForwardFailureToNilTarget(t *testing.T) {
	p := New[int]()
	p.ForwardFailureTo(nil)

	p.mu.Lock()
	queued := len(p.onFailed)
	p.mu.Unlock()
	if queued != 0 {
		t.Errorf("Nil target queued %d callbacks, expected none", queued)
	}
}

func TestPromiseConcurrentResolversExactlyOneWins(t *testing.T) {
	const resolvers = 32
	p := New[int]()

	var wg sync.WaitGroup
	wg.Add(resolvers)
	errs := make([]error, resolvers)

	for i := 0; i < resolvers; i++ {
		go func(idx int) {
			defer wg.Done()
			if idx%2 == 0 {
				errs[idx] = p.Fulfill(idx)
			} else {
				errs[idx] = p.Fail(errors.New("boom"))
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var resolved *AlreadyResolvedError
		if !errors.As(err, &resolved) {
			t.Errorf("Loser got %T, expected *AlreadyResolvedError", err)
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one winning resolver, got %d", winners)
	}
	if p.State() == Pending {
		t.Error("Promise still Pending after concurrent settlement")
	}
}
