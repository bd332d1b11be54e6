// Package ident resolves who is on the other end of a connection.
package ident

import (
	"net"

	"shmipe/pkg/pipestack"

	"github.com/pkg/errors"
)

var ErrUnsupportedConn = errors.New("connection does not carry peer credentials")

type Resolver interface {
	Resolve(conn net.Conn) (pipestack.Identity, error)
}

// Static hands every connection the same identity
type Static pipestack.Identity

func (s Static) Resolve(net.Conn) (pipestack.Identity, error) {
	return pipestack.Identity(s), nil
}

// PeerCred uses the uid of the process on the other end of a unix socket
type PeerCred struct{}

func (PeerCred) Resolve(conn net.Conn) (pipestack.Identity, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, errors.Wrapf(ErrUnsupportedConn, "%T", conn)
	}
	uid, err := peerUID(uc)
	if err != nil {
		return 0, err
	}
	return pipestack.Identity(uid), nil
}
