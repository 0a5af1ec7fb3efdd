// Package lobby drives client connections through the lobby lifecycle:
// connect, packet dispatch with keep-alive handling, and disconnect cleanup.
package lobby

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/net"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/observability"
	"github.com/l1jgo/lobby/internal/session"
)

const cleanupTimeout = 10 * time.Second

// Store is the persistence used by disconnect cleanup and the variants.
type Store interface {
	guard.Store
	UpdateCharacter(ctx context.Context, c *session.Character) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// GameQuitter removes a player from its game when the connection drops.
type GameQuitter interface {
	QuitGame(ctx context.Context, p *session.Player) error
}

// HostBeacon receives keep-alives from game hosts.
type HostBeacon interface {
	HostAlive(ctx context.Context, p *session.Player) error
}

// Deps are shared by every machine.
type Deps struct {
	Sessions *session.Sessions
	Lobbies  *session.Lobbies
	Guards   *guard.Guards
	Store    Store
	Quitter  GameQuitter
	Beacon   HostBeacon
	Metrics  *observability.Metrics
	Log      *zap.Logger
}

// Machine runs one lobby type. A single Machine serves every connection of
// that type; all per-connection state lives in the session registry.
type Machine struct {
	variant    Variant
	dispatcher *command.Dispatcher
	deps       Deps
	log        *zap.Logger
}

// NewMachine builds the variant's command table and returns its machine.
func NewMachine(v Variant, deps Deps) (*Machine, error) {
	log := deps.Log.With(zap.String("lobby_type", v.Type().String()))
	reg, err := command.NewBuilder(log).Add(v.Commands()...).Build()
	if err != nil {
		return nil, fmt.Errorf("%s lobby: %w", v.Type(), err)
	}
	return &Machine{
		variant:    v,
		dispatcher: command.NewDispatcher(reg, v.Type(), deps.Metrics, log),
		deps:       deps,
		log:        log,
	}, nil
}

func (m *Machine) Type() session.LobbyType {
	return m.variant.Type()
}

// Registry returns the machine's command table.
func (m *Machine) Registry() *command.Registry {
	return m.dispatcher.Registry()
}

func (m *Machine) OnConnect(c net.Client) {
	m.variant.OnConnect(context.Background(), c)
}

// OnPacket handles one inbound packet. The packet is released on every path.
func (m *Machine) OnPacket(c net.Client, pkt packet.Packet) {
	defer pkt.Release()
	ctx := context.Background()

	switch pkt.Command {
	case packet.CmdDisconnect:
		c.Close()
		return
	case packet.CmdPing:
		if err := c.Send(packet.EncodeEmpty(packet.CmdPing)); err != nil {
			return
		}
		m.variant.OnPing(ctx, c)
		return
	}

	lobby := m.deps.Lobbies.Get(c.LobbyID())
	if out := m.dispatcher.Dispatch(ctx, c, pkt, lobby); out == command.Unknown {
		m.log.Warn("unknown command",
			zap.Uint64("conn", c.ID()),
			zap.String("command", fmt.Sprintf("0x%04X", pkt.Command)),
			zap.Int("len", len(pkt.Payload)),
		)
	}
}

// OnDisconnect runs the variant hook and the default cleanup. The session
// is removed from the registry whatever happens during cleanup, and calling
// it again for the same connection does nothing.
func (m *Machine) OnDisconnect(c net.Client) {
	log := m.log.With(zap.Uint64("conn", c.ID()))
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("disconnect cleanup panic recovered", zap.Any("panic", rec))
		}
	}()
	defer func() {
		if u := m.deps.Sessions.Remove(c.ID()); u != nil {
			m.deps.Metrics.SetSessions(m.deps.Sessions.Len())
			log.Info("session closed", zap.String("account", u.Name))
		}
	}()

	u := m.deps.Sessions.Get(c.ID())
	if u == nil {
		return
	}
	m.variant.OnDisconnect(ctx, c, u)
	if err := m.cleanup(ctx, u); err != nil {
		log.Warn("disconnect cleanup failed", zap.Error(err))
	}
}

func (m *Machine) cleanup(ctx context.Context, u *session.User) error {
	ch := u.Character()
	if ch == nil {
		return nil
	}
	return m.deps.Store.WithTx(ctx, func(ctx context.Context) error {
		p, err := m.deps.Store.Player(ctx, ch.ID)
		if err != nil {
			return fmt.Errorf("load player: %w", err)
		}
		if p != nil && m.deps.Quitter != nil {
			if err := m.deps.Quitter.QuitGame(ctx, p); err != nil {
				return fmt.Errorf("quit game %d: %w", p.GameID, err)
			}
		}
		ch.SetLobby(0)
		if err := m.deps.Store.UpdateCharacter(ctx, ch); err != nil {
			return fmt.Errorf("save character: %w", err)
		}
		return nil
	})
}
