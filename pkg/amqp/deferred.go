package amqp

// A Deferred represents one pending request/reply round trip: a method
// frame we sent that the broker answers with exactly one reply frame (a
// *-ok, or occasionally a channel/connection close in place of the
// expected reply). The channel state machine keeps one FIFO queue of
// Deferreds per channel and resolves the oldest pending entry against
// the next inbound method frame that is not itself an unsolicited
// notification (deliver, return, flow, cancel, close).
//
// Deferred holds at most one callback per slot; calling OnSuccess,
// OnError, or OnFinalize again replaces the previous callback rather
// than appending to a list.
type Deferred struct {
	onSuccess  func(args interface{})
	onError    func(err error)
	onFinalize func()
	next       *Deferred

	done   bool
	err    error
	result interface{}
}

func newDeferred() *Deferred {
	return &Deferred{}
}

// OnSuccess registers the callback invoked when the round trip resolves
// successfully. It returns d so calls can be chained fluently.
func (d *Deferred) OnSuccess(fn func(result interface{})) *Deferred {
	d.onSuccess = fn
	return d
}

// OnError registers the callback invoked when the round trip fails,
// either because the broker replied with a close in place of the
// expected reply or because the owning channel/connection closed first.
func (d *Deferred) OnError(fn func(err error)) *Deferred {
	d.onError = fn
	return d
}

// OnFinalize registers a callback invoked exactly once after either
// OnSuccess or OnError, regardless of which fired.
func (d *Deferred) OnFinalize(fn func()) *Deferred {
	d.onFinalize = fn
	return d
}

// Chain links next so that an error on d cascades forward to next
// without next ever sending or expecting any wire traffic of its own.
// It does not cascade success: chaining models "also fail if this
// fails", not "also succeed if this succeeds". Chaining is forward-only;
// next cannot be resolved independently once chained, and d can chain to
// at most one next (re-chaining replaces the previous link).
func (d *Deferred) Chain(next *Deferred) *Deferred {
	d.next = next
	return d
}

// Done reports whether the Deferred has already resolved.
func (d *Deferred) Done() bool { return d.done }

// Err returns the error the Deferred resolved with, or nil on success or
// if it has not resolved yet.
func (d *Deferred) Err() error { return d.err }

func (d *Deferred) succeed(result interface{}) {
	if d.done {
		return
	}
	d.done = true
	d.result = result
	if d.onSuccess != nil {
		d.onSuccess(result)
	}
	if d.onFinalize != nil {
		d.onFinalize()
	}
}

func (d *Deferred) fail(err error) {
	if d.done {
		return
	}
	d.done = true
	d.err = err
	if d.onError != nil {
		d.onError(err)
	}
	if d.onFinalize != nil {
		d.onFinalize()
	}
	if d.next != nil {
		d.next.fail(err)
	}
}

// deferredQueue is the per-channel FIFO of Deferreds awaiting their
// matching reply frame.
type deferredQueue struct {
	pending []*Deferred
}

func (q *deferredQueue) push(d *Deferred) {
	q.pending = append(q.pending, d)
}

// pop removes and returns the oldest pending Deferred, if any.
func (q *deferredQueue) pop() (*Deferred, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	d := q.pending[0]
	q.pending = q.pending[1:]
	return d, true
}

// failAll resolves every still-pending Deferred with err, in FIFO order,
// used when the owning channel or connection closes while requests are
// outstanding.
func (q *deferredQueue) failAll(err error) {
	pending := q.pending
	q.pending = nil
	for _, d := range pending {
		d.fail(err)
	}
}
