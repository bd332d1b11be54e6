// Package pipeclient talks to a pipenode socket. A Client is one open handle:
// dialing opens the pipe and Close releases it.
package pipeclient

import (
	"context"
	"fmt"
	"net"
	"sync"

	"shmipe/pkg/pipestack"
	"shmipe/pkg/proto"
	"shmipe/pkg/util"

	"github.com/pkg/errors"
)

type Client struct {
	conn net.Conn
	mu   sync.Mutex // one request in flight

	identity pipestack.Identity
	root     bool
	capacity uint32
}

func Dial(path string) (*Client, error) {
	conn, err := util.DialUnixSocket(path)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", path)
	}
	c, err := NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient waits for the server's OPEN frame on an established connection
func NewClient(conn net.Conn) (*Client, error) {
	f, err := proto.ReadFrame(conn)
	if err != nil {
		return nil, errors.Wrap(err, "reading open response")
	}
	if err := pipestack.ErrorFromStatus(f.Status); err != nil {
		return nil, errors.Wrap(err, "open")
	}
	id, binding, capacity, err := f.OpenInfo()
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:     conn,
		identity: pipestack.Identity(id),
		root:     binding == proto.BindingRoot,
		capacity: capacity,
	}, nil
}

func (c *Client) Identity() pipestack.Identity {
	return c.identity
}

// Whether the server bound this connection to the deny-all root endpoint
func (c *Client) IsRoot() bool {
	return c.root
}

func (c *Client) Capacity() uint32 {
	return c.capacity
}

func (c *Client) roundTrip(ctx context.Context, req *proto.Frame) (*proto.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := proto.WriteFrame(c.conn, req); err != nil {
		return nil, errors.Wrapf(err, "sending %v", req.Op)
	}

	type result struct {
		f   *proto.Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := proto.ReadFrame(c.conn)
		done <- result{f, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		// the server answers the pending request either way
		if err := proto.WriteFrame(c.conn, proto.NewFrame(proto.OpInterrupt, proto.StatusOK, nil)); err != nil {
			return nil, errors.Wrap(err, "sending INTERRUPT")
		}
		r = <-done
	}
	if r.err != nil {
		return nil, errors.Wrapf(r.err, "waiting for %v response", req.Op)
	}
	if r.f.Op != req.Op {
		return nil, errors.Errorf("expected %v response but got %v", req.Op, r.f.Op)
	}
	if !r.f.Valid() {
		return nil, errors.Wrapf(pipestack.ErrIOFault, "%v response checksum mismatch", req.Op)
	}
	if err := pipestack.ErrorFromStatus(r.f.Status); err != nil {
		if errors.Is(err, pipestack.ErrInterrupted) && ctx.Err() != nil {
			return r.f, fmt.Errorf("%w: %w", err, context.Cause(ctx))
		}
		return r.f, err
	}
	return r.f, nil
}

// Read blocks until the channel has data and returns all of it
func (c *Client) Read(ctx context.Context, max int) ([]byte, error) {
	if max < 0 {
		max = 0
	}
	resp, err := c.roundTrip(ctx, proto.NewReadRequest(uint32(max)))
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Write returns how many bytes the server accepted, which is less than
// len(data) when data does not fit the channel in one piece.
func (c *Client) Write(ctx context.Context, data []byte) (int, error) {
	resp, err := c.roundTrip(ctx, proto.NewFrame(proto.OpWrite, proto.StatusOK, data))
	if resp == nil {
		return 0, err
	}
	n, decodeErr := resp.Uint32()
	if err != nil {
		return int(n), err
	}
	return int(n), decodeErr
}

// WriteAll writes data in as many pieces as the channel needs
func (c *Client) WriteAll(ctx context.Context, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := c.Write(ctx, data[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("server accepted no bytes")
		}
	}
	return total, nil
}

func (c *Client) Stat(ctx context.Context) (proto.ChannelStat, error) {
	resp, err := c.roundTrip(ctx, proto.NewFrame(proto.OpStat, proto.StatusOK, nil))
	if err != nil {
		return proto.ChannelStat{}, err
	}
	return proto.DecodeStat(resp.Payload)
}

// Close hangs up, which releases the handle on the server
func (c *Client) Close() error {
	return c.conn.Close()
}
