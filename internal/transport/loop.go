package transport

import "sync"

// DefaultQueueDepth is the number of undelivered events a loop buffers
// before producers block.
const DefaultQueueDepth = 256

// loop is the single dispatch stream: producers post closures and one
// goroutine runs them in order.
type loop struct {
	events chan func()
	done   chan struct{}
	once   sync.Once
}

func newLoop(depth int) *loop {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &loop{
		events: make(chan func(), depth),
		done:   make(chan struct{}),
	}
}

// run dispatches events until stop is called.
func (l *loop) run() {
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.events:
			fn()
		}
	}
}

// post enqueues fn.  It reports false, dropping fn, once the loop has
// stopped.
func (l *loop) post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.done:
		return false
	}
}

// drain stops the loop after every event already queued has run.
func (l *loop) drain() {
	if !l.post(l.stop) {
		l.stop()
	}
}

func (l *loop) stop() {
	l.once.Do(func() { close(l.done) })
}
