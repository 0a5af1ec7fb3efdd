package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/core/worker"
	"github.com/l1jgo/lobby/internal/observability"
)

// IDs hands out connection ids. One instance is shared by every listener so
// ids are unique process-wide.
type IDs struct {
	next atomic.Uint64
}

func (g *IDs) Next() uint64 {
	return g.next.Add(1)
}

// Server accepts TCP connections for one lobby.
type Server struct {
	lobbyID  int32
	listener net.Listener
	ids      *IDs
	handler  Handler
	pool     *worker.Pool
	opts     Options
	metrics  *observability.Metrics
	log      *zap.Logger

	mu      sync.Mutex
	conns   map[uint64]*Conn
	wg      sync.WaitGroup
	closing atomic.Bool
}

// Config groups what a listener shares with the rest of the process.
type Config struct {
	LobbyID int32
	Bind    string
	IDs     *IDs
	Handler Handler
	Pool    *worker.Pool
	Options Options
	Metrics *observability.Metrics
	Log     *zap.Logger
}

func Listen(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return nil, err
	}
	ids := cfg.IDs
	if ids == nil {
		ids = &IDs{}
	}
	return &Server{
		lobbyID:  cfg.LobbyID,
		listener: ln,
		ids:      ids,
		handler:  cfg.Handler,
		pool:     cfg.Pool,
		opts:     cfg.Options,
		metrics:  cfg.Metrics,
		log:      cfg.Log.With(zap.Int32("lobby", cfg.LobbyID)),
		conns:    make(map[uint64]*Conn),
	}, nil
}

// Serve runs the accept loop. It returns nil after Shutdown and an error if
// the listener fails.
func (s *Server) Serve() error {
	var backoff time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		c := newConn(nc, s.ids.Next(), s.lobbyID, s.handler, s.pool, s.opts, s.metrics, s.log)
		if !s.track(c) {
			c.Close()
			return nil
		}
		s.log.Info("client connected", zap.Uint64("conn", c.id), zap.String("ip", c.remote))

		go func() {
			defer s.untrack(c)
			c.serve()
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.wg.Done()
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, closes every connection and waits until each
// one has scheduled its disconnect.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if !s.closing.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	_ = s.listener.Close()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
