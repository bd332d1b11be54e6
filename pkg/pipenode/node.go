package pipenode

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"shmipe/pkg/ident"
	"shmipe/pkg/pipeconfig"
	"shmipe/pkg/pipestack"
	"shmipe/pkg/proto"
	"shmipe/pkg/util"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

func SetLogger(l *slog.Logger) {
	logger = l
}

// Node exposes one pipe service over unix sockets. Every accepted connection
// is one open handle, identified by the resolver.
type Node struct {
	Pipe *pipestack.PipeGlobalInfo

	resolver ident.Resolver
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	closed     bool
	listeners  []net.Listener
	sessions   map[*session]struct{}
	metricsSrv *http.Server
	wg         sync.WaitGroup
}

func New(config *pipeconfig.PipeConfig, resolver ident.Resolver) (*Node, error) {
	// a READ response carries the whole occupancy in one frame
	if config != nil && config.Capacity > proto.MaxPayloadLen+1 {
		return nil, errors.Wrapf(pipeconfig.ErrInvalidConfiguration,
			"capacity %d needs %d byte frames, the limit is %d", config.Capacity, config.Capacity-1, proto.MaxPayloadLen)
	}
	p, err := pipestack.Init(config)
	if err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = ident.PeerCred{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		Pipe:     p,
		resolver: resolver,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*session]struct{}),
	}, nil
}

// Binds the unix socket at path and serves it until Close
func (n *Node) ListenOn(path string) error {
	l, err := util.BindUnixSocket(path)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", path)
	}
	logger.Info("serving pipe", "socket", path, "capacity", n.Pipe.Capacity())
	return n.Serve(l)
}

func (n *Node) Serve(l net.Listener) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		l.Close()
		return net.ErrClosed
	}
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if closed {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.ServeConn(conn)
		}()
	}
}

// ServeConn opens the pipe for the peer of conn and serves requests until
// either side hangs up. conn is closed on return.
func (n *Node) ServeConn(conn net.Conn) {
	id, err := n.resolver.Resolve(conn)
	if err != nil {
		logger.Warn("cannot resolve peer identity", "error", err.Error())
		conn.Close()
		return
	}

	pipe, err := pipestack.VOpen(n.Pipe, id)
	if err != nil {
		logger.Warn("open failed", "identity", id, "error", err.Error())
		proto.WriteFrame(conn, proto.NewOpenResponse(pipestack.StatusFromError(err), uint32(id), proto.BindingChannel, n.Pipe.Capacity()))
		conn.Close()
		return
	}

	binding := proto.BindingChannel
	if _, ok := pipe.(*pipestack.VRootConn); ok {
		binding = proto.BindingRoot
	}
	if err := proto.WriteFrame(conn, proto.NewOpenResponse(proto.StatusOK, uint32(id), binding, n.Pipe.Capacity())); err != nil {
		pipe.VClose()
		conn.Close()
		return
	}

	s := &session{node: n, conn: conn, pipe: pipe}
	if !n.track(s) {
		pipe.VClose()
		conn.Close()
		return
	}
	defer n.untrack(s)
	s.run(n.ctx)
}

func (n *Node) track(s *session) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.sessions[s] = struct{}{}
	return true
}

func (n *Node) untrack(s *session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, s)
}

// ServeMetrics serves /metrics on addr until Close
func (n *Node) ServeMetrics(addr string) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(n.Pipe.Metrics().Collectors()...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return net.ErrClosed
	}
	n.metricsSrv = srv
	n.mu.Unlock()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// Close stops accepting, interrupts every in-flight operation, waits for the
// sessions to finish and then shuts the pipe service down.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	listeners := n.listeners
	srv := n.metricsSrv
	for s := range n.sessions {
		s.conn.Close()
	}
	n.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	n.cancel()
	n.wg.Wait()

	n.Pipe.Shutdown()
	if srv != nil {
		return srv.Close()
	}
	return nil
}
