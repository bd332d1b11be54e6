package pipestack

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"shmipe/pkg/pipeconfig"
	"shmipe/pkg/proto"

	"github.com/pkg/errors"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

func SetLogger(l *slog.Logger) {
	logger = l
}

// Identity tells callers apart. The hosting environment resolves it,
// e.g. the uid of a socket peer.
type Identity uint32

type PipeGlobalInfo struct {
	capacity    uint32
	privileged  Identity
	maxChannels int

	channelTable map[Identity]*channel
	tableMu      sync.RWMutex // also guards channel.count and shutdown
	shutdown     bool

	handleNum int32 // a counter that keeps track of the most recent handle id

	metrics *Metrics
}

// VPipe is what an opener gets back: a channel handle or the root endpoint.
type VPipe interface {
	// Blocks until data is available and returns all of it. max is not a cap,
	// callers receive up to capacity-1 bytes.
	VRead(ctx context.Context, max int) ([]byte, error)

	// Like VRead, but copies into buf. Fails with ErrIOFault and consumes
	// nothing when buf is smaller than the pending data.
	VReadInto(ctx context.Context, buf []byte) (int, error)

	// Blocks until the whole (possibly truncated) payload fits
	VWrite(ctx context.Context, data []byte) (int, error)

	VClose() error

	Identity() Identity
}

func Init(config *pipeconfig.PipeConfig) (*PipeGlobalInfo, error) {
	if config == nil {
		return nil, errors.Wrap(ErrInvalidConfiguration, "nil config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &PipeGlobalInfo{
		capacity:     config.Capacity,
		privileged:   Identity(config.Privileged),
		maxChannels:  config.MaxChannels,
		channelTable: make(map[Identity]*channel),
		handleNum:    -1,
		metrics:      NewMetrics(),
	}, nil
}

func (p *PipeGlobalInfo) Capacity() uint32 {
	return p.capacity
}

func (p *PipeGlobalInfo) Privileged() Identity {
	return p.privileged
}

func (p *PipeGlobalInfo) Metrics() *Metrics {
	return p.metrics
}

/************************************ Pipe API ***********************************/

// VOpen binds the caller to its own channel, creating it on first open.
// The privileged identity gets the deny-all root endpoint instead.
func VOpen(p *PipeGlobalInfo, id Identity) (VPipe, error) {
	if id == p.privileged {
		p.metrics.Opens.WithLabelValues("root").Inc()
		return &VRootConn{p: p, identity: id}, nil
	}

	ch, err := p.findOrCreateChannel(id)
	if err != nil {
		return nil, err
	}
	conn := &VPipeConn{
		p:        p,
		ch:       ch,
		handleId: atomic.AddInt32(&p.handleNum, 1),
	}
	logger.Debug("opened pipe", "identity", id, "handle", conn.handleId)
	return conn, nil
}

// Shutdown frees every channel, including those only kept alive by unread
// data, and fails any blocked or later operation with ErrShutdown.
func (p *PipeGlobalInfo) Shutdown() {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	for id, ch := range p.channelTable {
		ch.mu.Lock()
		if n := ch.buf.Occupancy(); n > 0 {
			logger.Info("dropping undelivered data on shutdown", "identity", id, "bytes", n)
		}
		ch.retireLocked(CHANNEL_SHUTDOWN)
		ch.mu.Unlock()
		delete(p.channelTable, id)
	}
	p.metrics.Channels.Set(0)
}

// Snapshot of every channel in the table
func (p *PipeGlobalInfo) Channels() []proto.ChannelStat {
	p.tableMu.RLock()
	defer p.tableMu.RUnlock()
	res := make([]proto.ChannelStat, 0, len(p.channelTable))
	for _, ch := range p.channelTable {
		res = append(res, ch.stat())
	}
	return res
}

func (p *PipeGlobalInfo) Stat(id Identity) (proto.ChannelStat, bool) {
	p.tableMu.RLock()
	defer p.tableMu.RUnlock()
	ch, ok := p.channelTable[id]
	if !ok {
		return proto.ChannelStat{}, false
	}
	return ch.stat(), true
}
