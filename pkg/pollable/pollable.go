// Package pollable implements the change-cookie notification primitive used
// by counters and the image size observable. A consumer reads a value
// alongside a cookie, then later arms a handle that fires once the cookie
// has advanced past the value it last observed.
package pollable

import "sync"

// Handle is armed against a Pollable and fires exactly once, either
// immediately (if the cookie has already advanced) or when Change is next
// called.
type Handle struct {
	ch   chan struct{}
	once sync.Once
}

// NewHandle creates an unfired handle.
func NewHandle() *Handle {
	return &Handle{ch: make(chan struct{})}
}

// fire closes the handle's channel, waking any goroutine blocked on Fired.
// Safe to call more than once.
func (h *Handle) fire() {
	h.once.Do(func() { close(h.ch) })
}

// Fired returns a channel that is closed once the handle has fired.
func (h *Handle) Fired() <-chan struct{} {
	return h.ch
}

// Pollable holds a monotonically increasing change-cookie and the set of
// handles waiting for it to advance.
type Pollable struct {
	mu      sync.Mutex
	cookie  uint64
	waiters []*Handle
	closed  bool
}

// New creates a Pollable with cookie 0.
func New() *Pollable {
	return &Pollable{}
}

// Cookie returns the current change-cookie.
func (p *Pollable) Cookie() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookie
}

// Change advances the cookie by one and fires every currently-waiting
// handle.
func (p *Pollable) Change() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookie++
	for _, h := range p.waiters {
		h.fire()
	}
	p.waiters = nil
}

// AddConditional arms handle h against seenCookie: if the current cookie
// already differs from seenCookie, h fires immediately and AddConditional
// returns true (matching the base spec's "changed" return). Otherwise h is
// queued to fire on the next Change, and AddConditional returns false.
func (p *Pollable) AddConditional(h *Handle, seenCookie uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.cookie != seenCookie {
		h.fire()
		return true
	}
	p.waiters = append(p.waiters, h)
	return false
}

// Add arms handle h unconditionally: it fires immediately if changed is
// true, otherwise it is queued for the next Change. A closed Pollable fires
// h immediately. chunklock's AddSizePollHandle uses it after Close to fire
// every subsequent subscription unconditionally.
func (p *Pollable) Add(h *Handle, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if changed || p.closed {
		h.fire()
		return
	}
	p.waiters = append(p.waiters, h)
}

// Close marks the Pollable closed: every waiting handle fires now, and
// every handle added afterwards (via Add or AddConditional) fires
// immediately too.
func (p *Pollable) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cookie++
	for _, h := range p.waiters {
		h.fire()
	}
	p.waiters = nil
}
