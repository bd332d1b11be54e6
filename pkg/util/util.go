package util

import (
	"net"
	"os"

	"github.com/pkg/errors"
)

// BindUnixSocket listens on path, replacing a stale socket file left behind by
// an earlier run. The socket is world-writable so every identity can open the pipe.
func BindUnixSocket(path string) (*net.UnixListener, error) {
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, errors.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, errors.Wrap(err, "removing stale socket")
		}
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o666); err != nil {
		l.Close()
		return nil, errors.Wrap(err, "chmod socket")
	}
	return l, nil
}

func DialUnixSocket(path string) (*net.UnixConn, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.DialUnix("unix", nil, addr)
}
