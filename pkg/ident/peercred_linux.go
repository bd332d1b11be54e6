//go:build linux

package ident

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func peerUID(conn *net.UnixConn) (uint32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, errors.Wrap(err, "raw conn")
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, errors.Wrap(err, "raw conn control")
	}
	if credErr != nil {
		return 0, errors.Wrap(credErr, "SO_PEERCRED")
	}
	return cred.Uid, nil
}
