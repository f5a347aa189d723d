package scheduler

import "sync"

// CompletionNotifier lets any number of goroutines subscribe to "this run
// finished" without the scheduler needing to know who, or how many, are
// listening. Each subscriber gets its own channel, which Broadcast closes
// rather than sends on, so a slow reader can never block the broadcaster.
type CompletionNotifier struct {
	mu   sync.Mutex
	subs map[string][]chan struct{}
}

// NewCompletionNotifier returns a ready-to-use notifier.
func NewCompletionNotifier() *CompletionNotifier {
	return &CompletionNotifier{subs: make(map[string][]chan struct{})}
}

// Subscribe returns a channel that receives once when runID completes.
// Callers must keep reading the returned channel (or stop caring about it)
// since it is closed exactly once, never sent on twice.
func (n *CompletionNotifier) Subscribe(runID string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan struct{})
	n.subs[runID] = append(n.subs[runID], ch)
	return ch
}

// Broadcast closes every channel subscribed to runID and forgets them.
func (n *CompletionNotifier) Broadcast(runID string) {
	n.mu.Lock()
	chans := n.subs[runID]
	delete(n.subs, runID)
	n.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

// ErrorNotifier is the same bounded-broadcast shape as CompletionNotifier,
// but carries an error payload to subscribers instead of a bare signal.
type ErrorNotifier struct {
	mu   sync.Mutex
	subs map[string][]chan error
}

// NewErrorNotifier returns a ready-to-use notifier.
func NewErrorNotifier() *ErrorNotifier {
	return &ErrorNotifier{subs: make(map[string][]chan error)}
}

// Subscribe returns a channel that receives runID's terminal error exactly
// once (nil if the run didn't fail).
func (n *ErrorNotifier) Subscribe(runID string) <-chan error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan error, 1)
	n.subs[runID] = append(n.subs[runID], ch)
	return ch
}

// Broadcast delivers err to every subscriber of runID and forgets them.
func (n *ErrorNotifier) Broadcast(runID string, err error) {
	n.mu.Lock()
	chans := n.subs[runID]
	delete(n.subs, runID)
	n.mu.Unlock()

	for _, ch := range chans {
		ch <- err
		close(ch)
	}
}
