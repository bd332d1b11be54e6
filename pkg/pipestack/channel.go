package pipestack

import (
	"context"
	"sync"

	"shmipe/pkg/proto"
)

type channelState int

const (
	CHANNEL_LIVE channelState = iota
	CHANNEL_PRUNED
	CHANNEL_SHUTDOWN
)

// One private pipe per identity
type channel struct {
	p *PipeGlobalInfo

	identity Identity

	// open references, guarded by p.tableMu. It may drop to 0 while the buffer
	// still holds undelivered bytes, the channel then stays in the table.
	count int

	mu      sync.Mutex // protects everything below
	state   channelState
	buf     *proto.CircBuff
	gate    *gate
	waiting int // callers parked on the gate
}

func newChannel(p *PipeGlobalInfo, id Identity) (*channel, error) {
	buf, err := proto.NewCircBuff(p.capacity)
	if err != nil {
		return nil, err
	}
	return &channel{
		p:        p,
		identity: id,
		count:    1,
		buf:      buf,
		gate:     newGate(),
	}, nil
}

// Blocks until ready holds or ctx is done.
// Must be called with ch.mu held, and returns with it held.
func (ch *channel) waitLocked(ctx context.Context, ready func() bool) error {
	for {
		switch ch.state {
		case CHANNEL_PRUNED:
			return ErrClosed
		case CHANNEL_SHUTDOWN:
			return ErrShutdown
		}
		if ready() {
			return nil
		}

		wake := ch.gate.enqueue()
		ch.waiting++
		ch.p.metrics.Waiters.Inc()
		ch.mu.Unlock()

		var err error
		select {
		case <-wake:
		case <-ctx.Done():
			err = interrupted(context.Cause(ctx))
		}

		ch.mu.Lock()
		ch.waiting--
		ch.p.metrics.Waiters.Dec()
		if err != nil {
			ch.gate.remove(wake)
			ch.p.metrics.Interrupted.Inc()
			return err
		}
	}
}

// Releases the buffer and wakes anyone still parked on it.
// Must be called with ch.mu held.
func (ch *channel) retireLocked(state channelState) {
	ch.state = state
	ch.buf = nil
	ch.gate.broadcast()
}

func (ch *channel) stat() proto.ChannelStat {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	stat := proto.ChannelStat{
		Identity: uint32(ch.identity),
		Openers:  ch.count,
		Capacity: ch.p.capacity,
		Waiters:  ch.waiting,
	}
	if ch.buf != nil {
		stat.Occupancy = ch.buf.Occupancy()
		stat.FreeSpace = ch.buf.FreeSpace()
	}
	return stat
}
