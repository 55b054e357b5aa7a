package image

import (
	"sync/atomic"

	"github.com/rdimagefs/rdimagefs/pkg/pollable"
)

// Counter is a u64 counter paired with a change-cookie pollable, the Go
// translation of vmnetfs's struct vmnetfs_stat: every increment bumps the
// cookie so a poller blocked on the counter's stats/ pseudo-file wakes up.
type Counter struct {
	v    atomic.Uint64
	poll *pollable.Pollable
}

func (c *Counter) init() {
	c.poll = pollable.New()
}

// Add increments the counter by delta and advances its change-cookie,
// mirroring _vmnetfs_u64_stat_increment.
func (c *Counter) Add(delta uint64) {
	c.v.Add(delta)
	c.poll.Change()
}

// Load returns the counter's current value.
func (c *Counter) Load() uint64 {
	return c.v.Load()
}

// store sets the counter's raw value without touching its pollable. Used
// only to build the detached snapshot Stats returns.
func (c *Counter) store(v uint64) {
	c.v.Store(v)
}

// Cookie returns the counter's current change-cookie.
func (c *Counter) Cookie() uint64 {
	return c.poll.Cookie()
}

// AddPollHandle arms h against the counter's pollable: it fires immediately
// if the cookie has already moved past seenCookie, otherwise it is queued
// for the next Add — mirroring _vmnetfs_stat_add_poll_handle.
func (c *Counter) AddPollHandle(h *pollable.Handle, seenCookie uint64) (changed bool) {
	return c.poll.AddConditional(h, seenCookie)
}
