package pipenode

import (
	"context"
	"io"
	"net"
	"sync/atomic"

	"shmipe/pkg/pipestack"
	"shmipe/pkg/proto"

	"github.com/pkg/errors"
)

// One accepted connection and the handle it holds. Requests are served one at
// a time, an INTERRUPT frame or a hangup cancels the one in flight.
//
// A READ is not started once the peer is known to be gone. Bytes drained by a
// read that completes in the same instant the peer hangs up cannot be
// delivered and are dropped with a warning.
type session struct {
	node   *Node
	conn   net.Conn
	pipe   pipestack.VPipe
	hungup atomic.Bool // set by readLoop when the connection fails
}

func (s *session) run(ctx context.Context) {
	defer func() {
		if err := s.pipe.VClose(); err != nil && !errors.Is(err, pipestack.ErrClosed) {
			logger.Warn("close failed", "identity", s.pipe.Identity(), "error", err.Error())
		}
		s.conn.Close()
	}()

	frames := make(chan *proto.Frame)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(frames, done)

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if f.Op == proto.OpInterrupt {
				// nothing in flight
				continue
			}
			if !s.dispatch(ctx, f, frames) {
				return
			}
		}
	}
}

func (s *session) readLoop(frames chan<- *proto.Frame, done <-chan struct{}) {
	defer close(frames)
	for {
		f, err := proto.ReadFrame(s.conn)
		if err != nil {
			s.hungup.Store(true)
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("read frame failed", "identity", s.pipe.Identity(), "error", err.Error())
			}
			return
		}
		select {
		case frames <- f:
		case <-done:
			return
		}
	}
}

// Runs f while watching the connection. Returns false once the connection is gone.
func (s *session) dispatch(ctx context.Context, f *proto.Frame, frames <-chan *proto.Frame) bool {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan *proto.Frame, 1)
	go func() {
		result <- s.handle(opCtx, f)
	}()

	alive := true
	for {
		select {
		case resp := <-result:
			if !alive {
				if resp.Op == proto.OpRead && len(resp.Payload) > 0 {
					logger.Warn("peer hung up, dropping read data", "identity", s.pipe.Identity(), "bytes", len(resp.Payload))
					s.node.Pipe.Metrics().DroppedBytes.Add(float64(len(resp.Payload)))
				}
				return false
			}
			if err := proto.WriteFrame(s.conn, resp); err != nil {
				logger.Warn("cannot deliver response", "identity", s.pipe.Identity(), "op", resp.Op, "error", err.Error())
				return false
			}
			return true
		case next, ok := <-frames:
			if !ok {
				// hangup interrupts the pending wait
				alive = false
				frames = nil
				cancel()
				continue
			}
			if next.Op == proto.OpInterrupt {
				cancel()
				continue
			}
			if err := proto.WriteFrame(s.conn, proto.NewFrame(next.Op, proto.StatusBadRequest, nil)); err != nil {
				alive = false
				frames = nil
				cancel()
			}
		}
	}
}

func (s *session) handle(ctx context.Context, f *proto.Frame) *proto.Frame {
	if !f.Valid() {
		logger.Warn("checksum mismatch", "identity", s.pipe.Identity(), "op", f.Op)
		return proto.NewFrame(f.Op, proto.StatusIOFault, nil)
	}

	switch f.Op {
	case proto.OpRead:
		if s.hungup.Load() {
			return proto.NewFrame(proto.OpRead, proto.StatusClosed, nil)
		}
		max, err := f.Uint32()
		if err != nil {
			return proto.NewFrame(f.Op, proto.StatusBadRequest, nil)
		}
		data, err := s.pipe.VRead(ctx, int(max))
		return proto.NewFrame(proto.OpRead, pipestack.StatusFromError(err), data)

	case proto.OpWrite:
		n, err := s.pipe.VWrite(ctx, f.Payload)
		return proto.NewWriteResponse(pipestack.StatusFromError(err), uint32(n))

	case proto.OpStat:
		if _, ok := s.pipe.(*pipestack.VRootConn); ok {
			return proto.NewFrame(proto.OpStat, proto.StatusPermissionDenied, nil)
		}
		stat, ok := s.node.Pipe.Stat(s.pipe.Identity())
		if !ok {
			return proto.NewFrame(proto.OpStat, proto.StatusClosed, nil)
		}
		payload, err := proto.EncodeStat(stat)
		if err != nil {
			return proto.NewFrame(proto.OpStat, proto.StatusBadRequest, nil)
		}
		return proto.NewFrame(proto.OpStat, proto.StatusOK, payload)
	}
	return proto.NewFrame(f.Op, proto.StatusBadRequest, nil)
}
