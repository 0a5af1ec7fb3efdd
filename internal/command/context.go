// Package command maps 16-bit command ids to handlers and invokes them.
package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/session"
)

// Conn is the part of a client connection that handlers use.
type Conn interface {
	ID() uint64
	RemoteAddr() string
	// Send queues one encoded frame for writing.
	Send(frame []byte) error
	Close()
}

// Context bundles one inbound packet with its connection and lobby. It is
// only valid for the duration of a single dispatch.
type Context struct {
	Conn   Conn
	Packet packet.Packet
	Lobby  *session.Lobby
	Log    *zap.Logger

	ctx context.Context
}

func NewContext(ctx context.Context, conn Conn, pkt packet.Packet, lobby *session.Lobby, log *zap.Logger) *Context {
	return &Context{Conn: conn, Packet: pkt, Lobby: lobby, Log: log, ctx: ctx}
}

// Context returns the context.Context for blocking calls made by the handler.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Reader returns a field reader over the packet payload.
func (c *Context) Reader() *packet.Reader {
	return packet.NewReader(c.Packet.Payload)
}

// Reply writes a command-only frame.
func (c *Context) Reply(cmd uint16) {
	c.send(packet.EncodeEmpty(cmd))
}

// ReplyResult writes a frame carrying a single int32 result.
func (c *Context) ReplyResult(cmd uint16, result int32) {
	c.send(packet.EncodeResult(cmd, result))
}

// ReplyError writes a structured error frame.
func (c *Context) ReplyError(cmd uint16, code packet.ErrorCode) {
	c.send(packet.EncodeError(cmd, code))
}

// ReplyPayload writes a frame with an arbitrary payload.
func (c *Context) ReplyPayload(cmd uint16, payload []byte) error {
	frame, err := packet.Encode(cmd, payload)
	if err != nil {
		return err
	}
	c.send(frame)
	return nil
}

func (c *Context) send(frame []byte) {
	if err := c.Conn.Send(frame); err != nil {
		c.Log.Debug("reply dropped", zap.Error(err))
	}
}
