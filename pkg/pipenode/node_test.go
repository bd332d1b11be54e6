package pipenode

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shmipe/pkg/ident"
	"shmipe/pkg/pipeclient"
	"shmipe/pkg/pipeconfig"
	"shmipe/pkg/pipestack"
	"shmipe/pkg/proto"

	"github.com/stretchr/testify/require"
)

// hands out identities chosen per connection by the test
type connIdentities struct {
	m sync.Map
}

func (c *connIdentities) Resolve(conn net.Conn) (pipestack.Identity, error) {
	id, ok := c.m.Load(conn)
	if !ok {
		return 0, ident.ErrUnsupportedConn
	}
	return id.(pipestack.Identity), nil
}

type testNode struct {
	*Node
	ids *connIdentities
}

func newTestNode(t *testing.T, mutate func(*pipeconfig.PipeConfig)) *testNode {
	t.Helper()
	config := pipeconfig.Default()
	config.Capacity = 64
	if mutate != nil {
		mutate(config)
	}
	ids := &connIdentities{}
	n, err := New(config, ids)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return &testNode{Node: n, ids: ids}
}

// Opens a session for id over an in-memory connection. The returned channel
// is closed once the server side is done with it.
func (n *testNode) connect(t *testing.T, id pipestack.Identity) (net.Conn, <-chan struct{}) {
	t.Helper()
	server, client := net.Pipe()
	n.ids.m.Store(server, id)
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.ServeConn(server)
	}()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func (n *testNode) dial(t *testing.T, id pipestack.Identity) *pipeclient.Client {
	t.Helper()
	conn, _ := n.connect(t, id)
	c, err := pipeclient.NewClient(conn)
	require.NoError(t, err)
	return c
}

func TestNode_WriteThenRead(t *testing.T) {
	n := newTestNode(t, nil)
	writer := n.dial(t, 1000)
	reader := n.dial(t, 1000)

	require.Equal(t, pipestack.Identity(1000), writer.Identity())
	require.False(t, writer.IsRoot())
	require.Equal(t, uint32(64), writer.Capacity())

	accepted, err := writer.Write(context.Background(), []byte("over the wire"))
	require.NoError(t, err)
	require.Equal(t, 13, accepted)

	data, err := reader.Read(context.Background(), 64)
	require.NoError(t, err)
	require.Equal(t, "over the wire", string(data))
}

func TestNode_WriteIsTruncated(t *testing.T) {
	n := newTestNode(t, func(c *pipeconfig.PipeConfig) { c.Capacity = 16 })
	c := n.dial(t, 1000)

	accepted, err := c.Write(context.Background(), bytes.Repeat([]byte{'q'}, 40))
	require.NoError(t, err)
	require.Equal(t, 15, accepted)

	data, err := c.Read(context.Background(), 40)
	require.NoError(t, err)
	require.Len(t, data, 15)
}

func TestNode_WriteAllSplitsLargePayloads(t *testing.T) {
	n := newTestNode(t, func(c *pipeconfig.PipeConfig) { c.Capacity = 16 })
	writer := n.dial(t, 1000)
	reader := n.dial(t, 1000)

	payload := []byte("a payload several times the capacity of the channel")
	errC := make(chan error, 1)
	go func() {
		_, err := writer.WriteAll(context.Background(), payload)
		errC <- err
	}()

	var got []byte
	for len(got) < len(payload) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		data, err := reader.Read(ctx, 16)
		cancel()
		require.NoError(t, err)
		got = append(got, data...)
	}
	require.NoError(t, <-errC)
	require.Equal(t, payload, got)
}

func TestNode_ReadInterrupted(t *testing.T) {
	n := newTestNode(t, nil)
	c := n.dial(t, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Read(ctx, 64)
	require.ErrorIs(t, err, pipestack.ErrInterrupted)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the session survives the interrupt
	_, err = c.Write(context.Background(), []byte("still here"))
	require.NoError(t, err)
	data, err := c.Read(context.Background(), 64)
	require.NoError(t, err)
	require.Equal(t, "still here", string(data))
}

func TestNode_Stat(t *testing.T) {
	n := newTestNode(t, nil)
	a := n.dial(t, 1000)
	n.dial(t, 1000)
	n.dial(t, 1001)

	_, err := a.Write(context.Background(), []byte("12345"))
	require.NoError(t, err)

	s, err := a.Stat(context.Background())
	require.NoError(t, err)
	require.Equal(t, proto.ChannelStat{
		Identity:  1000,
		Openers:   2,
		Occupancy: 5,
		FreeSpace: 58,
		Capacity:  64,
	}, s)
}

func TestNode_PrivilegedIdentity(t *testing.T) {
	n := newTestNode(t, nil)
	root := n.dial(t, 0)
	require.True(t, root.IsRoot())

	data, err := root.Read(context.Background(), 64)
	require.NoError(t, err)
	require.Empty(t, data)

	accepted, err := root.Write(context.Background(), []byte("denied"))
	require.ErrorIs(t, err, pipestack.ErrPermissionDenied)
	require.Zero(t, accepted)

	_, err = root.Stat(context.Background())
	require.ErrorIs(t, err, pipestack.ErrPermissionDenied)
	require.Empty(t, n.Pipe.Channels())
}

func TestNode_OpenOutOfMemory(t *testing.T) {
	n := newTestNode(t, func(c *pipeconfig.PipeConfig) { c.MaxChannels = 1 })
	n.dial(t, 1000)

	conn, done := n.connect(t, 1001)
	_, err := pipeclient.NewClient(conn)
	require.ErrorIs(t, err, pipestack.ErrOutOfMemory)
	<-done
}

func TestNode_UnresolvedPeerIsDropped(t *testing.T) {
	n := newTestNode(t, nil)
	server, client := net.Pipe()
	defer client.Close()

	go n.ServeConn(server)
	_, err := pipeclient.NewClient(client)
	require.Error(t, err)
}

func TestNode_BadChecksum(t *testing.T) {
	n := newTestNode(t, nil)
	conn, _ := n.connect(t, 1000)
	_, err := proto.ReadFrame(conn)
	require.NoError(t, err)

	f := proto.NewFrame(proto.OpWrite, proto.StatusOK, []byte("data"))
	f.Checksum ^= 0xff
	require.NoError(t, proto.WriteFrame(conn, f))

	resp, err := proto.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, proto.StatusIOFault, resp.Status)

	s, ok := n.Pipe.Stat(1000)
	require.True(t, ok)
	require.Zero(t, s.Occupancy)
}

func TestNode_HangupCancelsPendingRead(t *testing.T) {
	n := newTestNode(t, nil)
	conn, done := n.connect(t, 1000)
	_, err := proto.ReadFrame(conn)
	require.NoError(t, err)

	require.NoError(t, proto.WriteFrame(conn, proto.NewReadRequest(64)))
	require.Eventually(t, func() bool {
		s, ok := n.Pipe.Stat(1000)
		return ok && s.Waiters == 1
	}, 2*time.Second, time.Millisecond)

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after hangup")
	}

	_, ok := n.Pipe.Stat(1000)
	require.False(t, ok, "last handle of an empty channel was not released")
}

func TestNode_CloseOverUnixSocket(t *testing.T) {
	config := pipeconfig.Default()
	n, err := New(config, ident.Static(1000))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pipe.sock")
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- n.ListenOn(path)
	}()

	var c *pipeclient.Client
	require.Eventually(t, func() bool {
		c, err = pipeclient.Dial(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer c.Close()

	readErr := make(chan error, 1)
	go func() {
		_, err := c.Read(context.Background(), 64)
		readErr <- err
	}()
	require.Eventually(t, func() bool {
		s, ok := n.Pipe.Stat(1000)
		return ok && s.Waiters == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, n.Close())
	require.NoError(t, <-serveErr)
	select {
	case err := <-readErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("client read survived node close")
	}

	_, err = pipestack.VOpen(n.Pipe, 1001)
	require.ErrorIs(t, err, pipestack.ErrShutdown)
}

func TestNode_RejectsCapacityBeyondFrameLimit(t *testing.T) {
	config := pipeconfig.Default()
	config.Capacity = 1 << 25
	require.NoError(t, config.Validate())

	_, err := New(config, ident.Static(1000))
	require.ErrorIs(t, err, pipeconfig.ErrInvalidConfiguration)

	// the largest deliverable occupancy still fits one frame
	config.Capacity = 1 << 24
	n, err := New(config, ident.Static(1000))
	require.NoError(t, err)
	n.Close()
}

func TestNode_ReadSkippedAfterHangup(t *testing.T) {
	n := newTestNode(t, nil)
	pipe, err := pipestack.VOpen(n.Pipe, 1000)
	require.NoError(t, err)
	_, err = pipe.VWrite(context.Background(), []byte("keep me"))
	require.NoError(t, err)

	s := &session{node: n.Node, pipe: pipe}
	s.hungup.Store(true)
	resp := s.handle(context.Background(), proto.NewReadRequest(64))
	require.Equal(t, proto.StatusClosed, resp.Status)
	require.Empty(t, resp.Payload)

	stat, ok := n.Pipe.Stat(1000)
	require.True(t, ok)
	require.Equal(t, uint32(7), stat.Occupancy)
}

func TestNode_LogsErrorsWithoutStacks(t *testing.T) {
	var out bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&out, nil)))
	t.Cleanup(func() { SetLogger(slog.Default()) })

	n := newTestNode(t, func(c *pipeconfig.PipeConfig) { c.MaxChannels = 1 })
	n.dial(t, 1000)
	conn, done := n.connect(t, 1001)
	_, err := pipeclient.NewClient(conn)
	require.ErrorIs(t, err, pipestack.ErrOutOfMemory)
	<-done

	require.Contains(t, out.String(), "cannot allocate channel")
	require.NotContains(t, out.String(), ".go:")
}
