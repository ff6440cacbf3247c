package amqp

import (
	"errors"
	"testing"
)

func TestDeferredSucceedInvokesOnSuccessThenOnFinalize(t *testing.T) {
	d := newDeferred()
	var order []string
	d.OnSuccess(func(result interface{}) {
		order = append(order, "success")
		if result != "ok" {
			t.Fatalf("expected result %q, got %v", "ok", result)
		}
	})
	d.OnFinalize(func() { order = append(order, "finalize") })

	d.succeed("ok")

	if !d.Done() {
		t.Fatalf("expected Done() true after succeed")
	}
	if d.Err() != nil {
		t.Fatalf("expected nil Err() after succeed, got %v", d.Err())
	}
	if len(order) != 2 || order[0] != "success" || order[1] != "finalize" {
		t.Fatalf("unexpected callback order: %v", order)
	}
}

func TestDeferredFailInvokesOnErrorThenOnFinalize(t *testing.T) {
	d := newDeferred()
	var order []string
	wantErr := errors.New("boom")
	d.OnError(func(err error) {
		order = append(order, "error")
		if err != wantErr {
			t.Fatalf("expected error %v, got %v", wantErr, err)
		}
	})
	d.OnFinalize(func() { order = append(order, "finalize") })

	d.fail(wantErr)

	if !d.Done() {
		t.Fatalf("expected Done() true after fail")
	}
	if d.Err() != wantErr {
		t.Fatalf("expected Err() %v, got %v", wantErr, d.Err())
	}
	if len(order) != 2 || order[0] != "error" || order[1] != "finalize" {
		t.Fatalf("unexpected callback order: %v", order)
	}
}

func TestDeferredResolvesOnlyOnce(t *testing.T) {
	d := newDeferred()
	calls := 0
	d.OnSuccess(func(interface{}) { calls++ })
	d.succeed(1)
	d.succeed(2)
	d.fail(errors.New("too late"))
	if calls != 1 {
		t.Fatalf("expected exactly one OnSuccess invocation, got %d", calls)
	}
}

func TestDeferredChainCascadesFailureForward(t *testing.T) {
	first := newDeferred()
	second := newDeferred()
	var secondErr error
	second.OnError(func(err error) { secondErr = err })
	first.Chain(second)

	wantErr := errors.New("upstream failed")
	first.fail(wantErr)

	if !second.Done() {
		t.Fatalf("expected chained deferred to resolve")
	}
	if secondErr != wantErr {
		t.Fatalf("expected chained error %v, got %v", wantErr, secondErr)
	}
}

func TestDeferredChainDoesNotCascadeSuccess(t *testing.T) {
	first := newDeferred()
	second := newDeferred()
	first.Chain(second)

	first.succeed(nil)

	if second.Done() {
		t.Fatalf("expected chained deferred to remain unresolved after upstream success")
	}
}

func TestDeferredQueueFIFOOrder(t *testing.T) {
	q := &deferredQueue{}
	a, b, c := newDeferred(), newDeferred(), newDeferred()
	q.push(a)
	q.push(b)
	q.push(c)

	got, ok := q.pop()
	if !ok || got != a {
		t.Fatalf("expected a first")
	}
	got, ok = q.pop()
	if !ok || got != b {
		t.Fatalf("expected b second")
	}
	got, ok = q.pop()
	if !ok || got != c {
		t.Fatalf("expected c third")
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestDeferredQueueFailAllResolvesEveryPendingEntry(t *testing.T) {
	q := &deferredQueue{}
	var errs []error
	for i := 0; i < 3; i++ {
		d := newDeferred()
		d.OnError(func(err error) { errs = append(errs, err) })
		q.push(d)
	}
	wantErr := errors.New("connection closed")
	q.failAll(wantErr)

	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(errs))
	}
	for _, err := range errs {
		if err != wantErr {
			t.Fatalf("expected %v, got %v", wantErr, err)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("expected queue drained after failAll")
	}
}
