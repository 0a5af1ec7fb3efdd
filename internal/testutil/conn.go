// Package testutil provides test doubles and container helpers.
package testutil

import (
	"errors"
	"fmt"
	"sync"

	"github.com/l1jgo/lobby/internal/net/packet"
)

// FakeConn records every frame sent to it.
type FakeConn struct {
	id uint64
	// Lobby is returned by LobbyID.
	Lobby int32

	mu     sync.Mutex
	frames [][]byte
	closed int
}

func NewFakeConn(id uint64) *FakeConn {
	return &FakeConn{id: id}
}

func (c *FakeConn) ID() uint64         { return c.id }
func (c *FakeConn) LobbyID() int32     { return c.Lobby }
func (c *FakeConn) RemoteAddr() string { return fmt.Sprintf("fake:%d", c.id) }

func (c *FakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return errors.New("connection closed")
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *FakeConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

// CloseCount returns how many times Close was called.
func (c *FakeConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}

// Packets decodes every frame sent so far.
func (c *FakeConn) Packets() []packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := packet.NewDecoder()
	var out []packet.Packet
	for _, f := range c.frames {
		pkts, err := d.Feed(f)
		if err != nil {
			panic(err)
		}
		out = append(out, pkts...)
	}
	return out
}

// Reset forgets recorded frames.
func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
