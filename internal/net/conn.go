package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/core/worker"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/observability"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrOutQueueFull = errors.New("output queue full")
)

const (
	maxWriteBatch    = 64
	defaultReadChunk = 4096
)

// Client is the view of a connection handed to a Handler.
type Client interface {
	command.Conn
	// LobbyID is the lobby whose listener accepted the connection.
	LobbyID() int32
}

// Handler receives connection events. All three methods for one connection
// run on the same pinned worker, in order: OnConnect, every OnPacket, then
// OnDisconnect.
type Handler interface {
	OnConnect(c Client)
	OnPacket(c Client, pkt packet.Packet)
	OnDisconnect(c Client)
}

// Options tune per-connection I/O.
type Options struct {
	OutQueueSize int
	ReadBuffer   int
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Conn is one client connection. Reading and writing run in their own
// goroutines; handler work runs on the worker pool.
type Conn struct {
	id      uint64
	lobbyID int32
	conn    net.Conn
	remote  string

	handler Handler
	pool    *worker.Pool
	opts    Options
	metrics *observability.Metrics

	out       chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func newConn(conn net.Conn, id uint64, lobbyID int32, h Handler, pool *worker.Pool, opts Options, metrics *observability.Metrics, log *zap.Logger) *Conn {
	if opts.OutQueueSize <= 0 {
		opts.OutQueueSize = 256
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = defaultReadChunk
	}
	return &Conn{
		id:      id,
		lobbyID: lobbyID,
		conn:    conn,
		remote:  conn.RemoteAddr().String(),
		handler: h,
		pool:    pool,
		opts:    opts,
		metrics: metrics,
		out:     make(chan []byte, opts.OutQueueSize),
		closeCh: make(chan struct{}),
		log:     log.With(zap.Uint64("conn", id), zap.Int32("lobby", lobbyID)),
	}
}

func (c *Conn) ID() uint64         { return c.id }
func (c *Conn) LobbyID() int32     { return c.lobbyID }
func (c *Conn) RemoteAddr() string { return c.remote }

// Send queues an encoded frame. It never blocks: a client that cannot keep
// up with its output is disconnected.
func (c *Conn) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.closeCh:
		return ErrConnClosed
	default:
		c.log.Warn("output queue full, closing slow connection")
		c.Close()
		return ErrOutQueueFull
	}
}

// Close shuts the socket. Safe to call from any goroutine, any number of
// times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		_ = c.conn.Close()
	})
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// serve owns the connection until the read side ends, then hands teardown
// to the connection's worker.
func (c *Conn) serve() {
	c.metrics.ConnectionOpened(c.lobbyID)
	defer c.metrics.ConnectionClosed(c.lobbyID)

	go c.writeLoop()

	if err := c.pool.Submit(c.id, func() { c.handler.OnConnect(c) }); err != nil {
		c.log.Warn("cannot schedule connect", zap.Error(err))
		c.Close()
	} else {
		c.readLoop()
		c.Close()
	}

	if err := c.pool.SubmitUnbounded(c.id, func() { c.handler.OnDisconnect(c) }); err != nil {
		c.log.Warn("worker pool unavailable, running disconnect inline", zap.Error(err))
		c.handler.OnDisconnect(c)
	}
}

func (c *Conn) readLoop() {
	dec := packet.NewDecoder()
	buf := make([]byte, c.opts.ReadBuffer)

	for {
		if c.opts.IdleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout)); err != nil {
				return
			}
		}
		pkts, err := readPackets(c.conn, dec, buf)
		for i := range pkts {
			pkt := pkts[i]
			if serr := c.pool.Submit(c.id, func() { c.handler.OnPacket(c, pkt) }); serr != nil {
				c.log.Warn("dropping connection, worker queue rejected packet", zap.Error(serr))
				for j := i; j < len(pkts); j++ {
					pkts[j].Release()
				}
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, packet.ErrInvalidLength):
				c.metrics.ProtocolError(c.lobbyID)
				c.log.Warn("protocol error", zap.Error(err))
			case isTimeout(err):
				c.log.Debug("idle timeout")
			case !c.closed.Load():
				c.log.Debug("read ended", zap.Error(err))
			}
			return
		}
	}
}

func (c *Conn) writeLoop() {
	batch := make(net.Buffers, 0, maxWriteBatch)
	for {
		select {
		case frame := <-c.out:
			batch = append(batch[:0], frame)
			for len(batch) < maxWriteBatch && len(c.out) > 0 {
				batch = append(batch, <-c.out)
			}
			if err := writeBatch(c.conn, batch, c.opts.WriteTimeout); err != nil {
				if !c.closed.Load() {
					c.log.Debug("write failed", zap.Error(err))
				}
				c.Close()
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
