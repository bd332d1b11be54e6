//go:build linux

package ident

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"shmipe/pkg/pipestack"

	"github.com/stretchr/testify/require"
)

func TestPeerCredResolvesOwnUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok, "accept failed")
	defer server.Close()

	id, err := PeerCred{}.Resolve(server)
	require.NoError(t, err)
	require.Equal(t, pipestack.Identity(os.Getuid()), id)
}

func TestPeerCredRejectsPipes(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := PeerCred{}.Resolve(a)
	require.ErrorIs(t, err, ErrUnsupportedConn)
}

func TestStatic(t *testing.T) {
	id, err := Static(1000).Resolve(nil)
	require.NoError(t, err)
	require.Equal(t, pipestack.Identity(1000), id)
}
