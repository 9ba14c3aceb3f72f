package crawler

import (
	"context"
	"sync"
)

// Item is a frontier entry: a URL and the number of links followed from the
// root to reach it.
type Item struct {
	URL   URL
	Depth int
}

// Frontier is the FIFO queue of URLs waiting to be fetched.
// It owns deduplication: a URL is admitted at most once over the lifetime of
// the frontier, because it is marked visited at enqueue time rather than
// at fetch time.
//
// The frontier also tracks how many dequeued items are still being
// processed. Pending, visited and the in-flight count share one mutex, so
// "queue empty and nothing in flight" is observed atomically and a worker
// can never be caught between popping an item and counting it.
type Frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []Item
	visited  map[string]struct{}
	inFlight int
	limit    int
	stopped  bool
	onChange func(pending, inFlight int)
}

// FrontierOption configures a Frontier.
type FrontierOption func(*Frontier)

// WithAdmissionLimit caps how many distinct URLs the frontier ever admits.
// Zero or negative means no limit.
func WithAdmissionLimit(n int) FrontierOption {
	return func(f *Frontier) {
		if n > 0 {
			f.limit = n
		}
	}
}

// WithOnChange registers fn to be called whenever the pending or in-flight
// count changes. fn runs with the frontier locked, so calls arrive in the
// order the changes happened; it must not call back into the frontier.
// fn is not called once the frontier is stopped.
func WithOnChange(fn func(pending, inFlight int)) FrontierOption {
	return func(f *Frontier) {
		f.onChange = fn
	}
}

// NewFrontier creates an empty frontier.
func NewFrontier(opts ...FrontierOption) *Frontier {
	f := &Frontier{
		pending: make([]Item, 0),
		visited: make(map[string]struct{}),
	}
	f.cond = sync.NewCond(&f.mu)

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Enqueue admits u at the given depth. It returns false, with no side
// effects, if u was admitted before, the admission limit is reached, or
// the frontier has been stopped.
func (f *Frontier) Enqueue(u URL, depth int) bool {
	if u.IsZero() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return false
	}
	if _, ok := f.visited[u.Key()]; ok {
		return false
	}
	if f.limit > 0 && len(f.visited) >= f.limit {
		return false
	}

	f.visited[u.Key()] = struct{}{}
	f.pending = append(f.pending, Item{URL: u, Depth: depth})
	f.changedLocked()
	f.cond.Signal()
	return true
}

// Dequeue pops the oldest pending item and counts it as in flight.
// When nothing is pending but other items are still in flight it blocks,
// since their links may refill the queue. It returns false once the queue
// is empty with nothing in flight, after Stop, or when ctx is done.
//
// Every successful Dequeue must be paired with a call to Done.
func (f *Frontier) Dequeue(ctx context.Context) (Item, bool) {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			f.mu.Lock()
			f.cond.Broadcast()
			f.mu.Unlock()
		})
		defer stop()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.pending) == 0 && f.inFlight > 0 && !f.stopped && ctx.Err() == nil {
		f.cond.Wait()
	}

	if f.stopped || ctx.Err() != nil || len(f.pending) == 0 {
		return Item{}, false
	}

	item := f.pending[0]
	f.pending[0] = Item{}
	f.pending = f.pending[1:]
	f.inFlight++
	f.changedLocked()
	return item, true
}

// Done marks one dequeued item as fully processed. Links discovered while
// processing it must be enqueued before Done is called.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight > 0 {
		f.inFlight--
	}
	f.changedLocked()
	f.cond.Broadcast()
}

func (f *Frontier) changedLocked() {
	if f.onChange != nil && !f.stopped {
		f.onChange(len(f.pending), f.inFlight)
	}
}

// Stop discards every pending item and makes all current and future
// Dequeue calls return false. Items already in flight are unaffected.
func (f *Frontier) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped = true
	f.pending = nil
	f.cond.Broadcast()
}

// Seen reports whether u has already been admitted.
func (f *Frontier) Seen(u URL) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[u.Key()]
	return ok
}

// Visited returns the number of distinct URLs admitted so far.
// It never decreases.
func (f *Frontier) Visited() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// Pending returns the number of items waiting to be dequeued.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// InFlight returns the number of dequeued items not yet marked Done.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Drained reports whether nothing is pending and nothing is in flight.
func (f *Frontier) Drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) == 0 && f.inFlight == 0
}

// Stopped reports whether Stop has been called.
func (f *Frontier) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
