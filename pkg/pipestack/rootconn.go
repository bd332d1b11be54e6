package pipestack

import (
	"context"
	"fmt"
)

// VRootConn is what the privileged identity gets. It holds no channel, never
// blocks and keeps no state.
type VRootConn struct {
	p        *PipeGlobalInfo
	identity Identity
}

func (r *VRootConn) Identity() Identity {
	return r.identity
}

func (r *VRootConn) String() string {
	return fmt.Sprintf("root(identity=%d)", r.identity)
}

func (r *VRootConn) VRead(ctx context.Context, max int) ([]byte, error) {
	logger.Warn("only mere mortals can read from here", "identity", r.identity)
	r.p.metrics.RootDenied.WithLabelValues("read").Inc()
	return []byte{}, nil
}

func (r *VRootConn) VReadInto(ctx context.Context, buf []byte) (int, error) {
	logger.Warn("only mere mortals can read from here", "identity", r.identity)
	r.p.metrics.RootDenied.WithLabelValues("read").Inc()
	return 0, nil
}

func (r *VRootConn) VWrite(ctx context.Context, data []byte) (int, error) {
	logger.Warn("only mere mortals can write here", "identity", r.identity)
	r.p.metrics.RootDenied.WithLabelValues("write").Inc()
	return 0, ErrPermissionDenied
}

func (r *VRootConn) VClose() error {
	return nil
}
