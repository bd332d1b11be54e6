package pipestack

import (
	"context"
	"fmt"
	"sync/atomic"
)

// VPipeConn is an open handle on one identity's channel
type VPipeConn struct {
	p  *PipeGlobalInfo
	ch *channel

	handleId int32
	closed   atomic.Bool
}

func (conn *VPipeConn) Identity() Identity {
	return conn.ch.identity
}

func (conn *VPipeConn) HandleId() int32 {
	return conn.handleId
}

func (conn *VPipeConn) String() string {
	return fmt.Sprintf("pipe(handle=%d identity=%d)", conn.handleId, conn.ch.identity)
}

// VRead blocks until the channel holds data, then drains all of it.
// max is ignored, the result can be as large as capacity-1.
func (conn *VPipeConn) VRead(ctx context.Context, max int) ([]byte, error) {
	if conn.closed.Load() {
		return nil, ErrClosed
	}
	ch := conn.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()

	// 1. wait for data
	err := ch.waitLocked(ctx, func() bool { return !ch.buf.IsEmpty() })
	if err != nil {
		return nil, err
	}

	// 2. take everything that is there
	data := ch.buf.Read(ch.buf.Occupancy())

	// 3. space became available
	ch.gate.broadcast()
	conn.p.metrics.BytesRead.Add(float64(len(data)))
	return data, nil
}

func (conn *VPipeConn) VReadInto(ctx context.Context, buf []byte) (int, error) {
	if conn.closed.Load() {
		return 0, ErrClosed
	}
	ch := conn.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()

	err := ch.waitLocked(ctx, func() bool { return !ch.buf.IsEmpty() })
	if err != nil {
		return 0, err
	}

	if n := ch.buf.Occupancy(); uint64(len(buf)) < uint64(n) {
		return 0, fmt.Errorf("%w: %d bytes pending, destination holds %d", ErrIOFault, n, len(buf))
	}
	n := ch.buf.ReadInto(buf)

	ch.gate.broadcast()
	conn.p.metrics.BytesRead.Add(float64(n))
	return int(n), nil
}

// VWrite blocks until the whole payload fits and appends it in one piece.
// Payloads of capacity bytes or more are cut to capacity-1.
func (conn *VPipeConn) VWrite(ctx context.Context, data []byte) (int, error) {
	if conn.closed.Load() {
		return 0, ErrClosed
	}

	// 1. one slot is always reserved
	if limit := int(conn.p.capacity) - 1; len(data) > limit {
		data = data[:limit]
	}

	ch := conn.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()

	// 2. wait for room
	err := ch.waitLocked(ctx, func() bool { return int(ch.buf.FreeSpace()) >= len(data) })
	if err != nil {
		return 0, err
	}

	// 3. cannot overflow, the lock has been held since the check
	n, err := ch.buf.Write(data)
	if err != nil {
		return 0, err
	}

	// 4. data became available
	ch.gate.broadcast()
	conn.p.metrics.BytesWritten.Add(float64(n))
	return int(n), nil
}

// VClose drops this handle's reference. A handle closes only once.
func (conn *VPipeConn) VClose() error {
	if !conn.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	conn.p.releaseChannel(conn.ch)
	logger.Debug("closed pipe", "identity", conn.ch.identity, "handle", conn.handleId)
	return nil
}
