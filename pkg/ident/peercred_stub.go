//go:build !linux

package ident

import (
	"net"

	"github.com/pkg/errors"
)

func peerUID(conn *net.UnixConn) (uint32, error) {
	return 0, errors.Wrap(ErrUnsupportedConn, "SO_PEERCRED is linux only")
}
