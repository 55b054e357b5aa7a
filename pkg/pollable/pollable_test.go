package pollable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fired(h *Handle) bool {
	select {
	case <-h.Fired():
		return true
	default:
		return false
	}
}

func TestAddConditionalFiresImmediatelyWhenStale(t *testing.T) {
	p := New()
	p.Change() // cookie -> 1

	h := NewHandle()
	changed := p.AddConditional(h, 0)
	assert.True(t, changed)
	assert.True(t, fired(h))
}

func TestAddConditionalArmsWhenCurrent(t *testing.T) {
	p := New()
	h := NewHandle()
	changed := p.AddConditional(h, p.Cookie())
	assert.False(t, changed)
	assert.False(t, fired(h))

	p.Change()
	assert.True(t, fired(h))
}

func TestChangeIsMonotonic(t *testing.T) {
	p := New()
	c0 := p.Cookie()
	p.Change()
	c1 := p.Cookie()
	p.Change()
	c2 := p.Cookie()
	assert.Less(t, c0, c1)
	assert.Less(t, c1, c2)
}

func TestCloseFiresAllWaitersAndFutureSubscribers(t *testing.T) {
	p := New()
	h1 := NewHandle()
	p.AddConditional(h1, p.Cookie())
	require.False(t, fired(h1))

	p.Close()
	assert.True(t, fired(h1))

	h2 := NewHandle()
	changed := p.AddConditional(h2, p.Cookie())
	assert.True(t, changed)
	assert.True(t, fired(h2))
}

func TestWaitBlocksUntilFired(t *testing.T) {
	p := New()
	h := NewHandle()
	p.AddConditional(h, p.Cookie())

	done := make(chan struct{})
	go func() {
		<-h.Fired()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("handle fired before Change")
	case <-time.After(20 * time.Millisecond):
	}

	p.Change()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handle never fired")
	}
}
