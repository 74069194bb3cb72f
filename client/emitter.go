package client

import "sync"

// rawHandler receives a node-scope operation with its decoded payload.
type rawHandler func(op string, data any)

// waiter is a one-shot subscription used for correlated queries: send a
// command, wait for the matching event, give up after a deadline. An
// abandoned waiter is removed by its cancel func so it can never resolve a
// later, unrelated query.
type waiter struct {
	op     string
	filter func(data any) bool
	ch     chan any
}

type emitter struct {
	mu       sync.Mutex
	handlers map[string][]rawHandler
	catchAll []rawHandler
	waiters  []*waiter
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[string][]rawHandler)}
}

func (e *emitter) on(op string, h rawHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[op] = append(e.handlers[op], h)
}

func (e *emitter) onAny(h rawHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.catchAll = append(e.catchAll, h)
}

// waitFor registers a one-shot wait. The returned channel is buffered; the
// cancel func is safe to call whether or not the waiter fired.
func (e *emitter) waitFor(op string, filter func(data any) bool) (<-chan any, func()) {
	w := &waiter{op: op, filter: filter, ch: make(chan any, 1)}
	e.mu.Lock()
	e.waiters = append(e.waiters, w)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, cur := range e.waiters {
			if cur == w {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				return
			}
		}
	}
	return w.ch, cancel
}

func (e *emitter) emit(op string, data any) {
	e.mu.Lock()
	var fired []*waiter
	remaining := e.waiters[:0]
	for _, w := range e.waiters {
		if w.op == op && (w.filter == nil || w.filter(data)) {
			fired = append(fired, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	e.waiters = remaining
	handlers := append([]rawHandler(nil), e.handlers[op]...)
	catchAll := append([]rawHandler(nil), e.catchAll...)
	e.mu.Unlock()

	for _, w := range fired {
		w.ch <- data
	}
	for _, h := range catchAll {
		h(op, data)
	}
	for _, h := range handlers {
		h(op, data)
	}
}
