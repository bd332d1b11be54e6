package pipestack

import (
	"github.com/pkg/errors"
)

// Looks up the channel for id and takes a reference, or creates it.
// Both happen under one write lock, so concurrent first opens of the same
// identity end up sharing a single channel.
func (p *PipeGlobalInfo) findOrCreateChannel(id Identity) (*channel, error) {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()

	if p.shutdown {
		return nil, ErrShutdown
	}

	if ch, ok := p.channelTable[id]; ok {
		ch.count++
		p.metrics.Opens.WithLabelValues("existing").Inc()
		return ch, nil
	}

	if p.maxChannels > 0 && len(p.channelTable) >= p.maxChannels {
		return nil, errors.Wrapf(ErrOutOfMemory, "%d channels in use", len(p.channelTable))
	}
	ch, err := newChannel(p, id)
	if err != nil {
		return nil, errors.Wrap(ErrOutOfMemory, err.Error())
	}
	p.channelTable[id] = ch
	p.metrics.Opens.WithLabelValues("created").Inc()
	p.metrics.Channels.Set(float64(len(p.channelTable)))
	logger.Debug("created channel", "identity", id, "capacity", p.capacity)
	return ch, nil
}

// Drops one reference. The channel leaves the table only when this was the
// last opener and nothing is left to deliver.
func (p *PipeGlobalInfo) releaseChannel(ch *channel) {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.state != CHANNEL_LIVE {
		return
	}

	if ch.count > 1 || ch.buf.Occupancy() > 0 {
		ch.count--
		if ch.count == 0 {
			logger.Debug("channel retained with undelivered data", "identity", ch.identity, "bytes", ch.buf.Occupancy())
		}
		return
	}

	ch.count = 0
	delete(p.channelTable, ch.identity)
	ch.retireLocked(CHANNEL_PRUNED)
	p.metrics.Channels.Set(float64(len(p.channelTable)))
	logger.Debug("pruned channel", "identity", ch.identity)
}
