package pipestack

import (
	deque "github.com/gammazero/deque"
)

// gate parks readers and writers of one channel until the channel changes.
// Every method must be called with the owning channel's lock held.
type gate struct {
	waiters *deque.Deque[chan struct{}]
}

func newGate() *gate {
	return &gate{waiters: deque.New[chan struct{}]()}
}

// Registers a waiter. The returned channel is closed by the next broadcast.
func (g *gate) enqueue() <-chan struct{} {
	wake := make(chan struct{})
	g.waiters.PushBack(wake)
	return wake
}

// Drops a waiter that gave up before being woken. A no-op if a broadcast
// already released it.
func (g *gate) remove(wake <-chan struct{}) {
	if i := g.waiters.Index(func(c chan struct{}) bool { return c == wake }); i >= 0 {
		g.waiters.Remove(i)
	}
}

func (g *gate) len() int {
	return g.waiters.Len()
}

// Wakes every parked waiter in arrival order. Each one re-checks its own condition.
func (g *gate) broadcast() {
	for g.waiters.Len() > 0 {
		close(g.waiters.PopFront())
	}
}
