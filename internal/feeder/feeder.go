// Package feeder implements the ad-hoc, one-at-a-time command queue fed by jogs, manual
// G-code, and macros, strictly paced by the owning controller's acknowledgements.
package feeder

import "github.com/opencnc/cncstream/internal/protocol"

// Item is a single queued line, optionally tagged with the client that originated it so the
// controller can correlate the device's echo back to that client.
type Item struct {
	Client protocol.ClientHandle
	Line   string
}

// Feeder is an ordered FIFO of Items with at most one outstanding (pending) at a time.
// It is only ever touched from its owning controller's single event-loop goroutine, so it
// carries no internal locking.
type Feeder struct {
	queue       []Item
	pending     bool
	lastPeekLen int
}

func New() *Feeder {
	return &Feeder{}
}

// Feed appends an item to the queue.
func (f *Feeder) Feed(item Item) {
	f.queue = append(f.queue, item)
}

// Next clears any pending flag (acknowledging whatever was previously emitted) and, if the
// queue is non-empty, pops the head, marks it pending, and returns it for the controller to
// write to the device. Callers that must avoid acknowledging a send still in flight should
// guard with IsPending before calling Next.
func (f *Feeder) Next() (Item, bool) {
	f.pending = false
	if len(f.queue) == 0 {
		return Item{}, false
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	f.pending = true
	return item, true
}

// IsPending reports whether an item emitted by Next is still awaiting acknowledgement.
func (f *Feeder) IsPending() bool {
	return f.pending
}

// Clear drops all queued items. The pending flag is left untouched: an item already emitted
// and awaiting acknowledgement is unaffected.
func (f *Feeder) Clear() {
	f.queue = nil
}

// Len returns the number of queued (not yet emitted) items.
func (f *Feeder) Len() int {
	return len(f.queue)
}

// Peek reports whether the queue length has changed since the last call to Peek, for
// publishing feeder:status snapshots at timer granularity rather than on every mutation.
func (f *Feeder) Peek() bool {
	changed := len(f.queue) != f.lastPeekLen
	f.lastPeekLen = len(f.queue)
	return changed
}

// Status is a snapshot suitable for a feeder:status event.
type Status struct {
	QueueLength int
	Pending     bool
}

func (f *Feeder) Status() Status {
	return Status{QueueLength: len(f.queue), Pending: f.pending}
}
