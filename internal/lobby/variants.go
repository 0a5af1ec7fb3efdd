package lobby

import (
	"context"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/handler"
	"github.com/l1jgo/lobby/internal/net"
	"github.com/l1jgo/lobby/internal/session"
)

// Variant supplies the command table and lifecycle hooks of a lobby type.
type Variant interface {
	Type() session.LobbyType
	Commands() []command.Declaration
	OnConnect(ctx context.Context, c net.Client)
	// OnPing runs after the keep-alive reply has been queued.
	OnPing(ctx context.Context, c net.Client)
	// OnDisconnect runs before the default cleanup, only for connections
	// that still have a session.
	OnDisconnect(ctx context.Context, c net.Client, u *session.User)
}

// NewVariant returns the variant for typ.
func NewVariant(typ session.LobbyType, h *handler.Deps, deps Deps) Variant {
	switch typ {
	case session.LobbyAccount:
		return &Account{base{h: h, log: deps.Log}}
	case session.LobbyGame:
		return &Game{base: base{h: h, log: deps.Log}, guards: deps.Guards, beacon: deps.Beacon}
	default:
		return &Gate{base{h: h, log: deps.Log}}
	}
}

type base struct {
	h   *handler.Deps
	log *zap.Logger
}

func (b base) OnConnect(_ context.Context, c net.Client) {
	b.log.Debug("client entered lobby", zap.Uint64("conn", c.ID()), zap.Int32("lobby", c.LobbyID()))
}

func (base) OnPing(context.Context, net.Client) {}

func (base) OnDisconnect(context.Context, net.Client, *session.User) {}

// Gate is the entry lobby: authentication and lobby listing.
type Gate struct{ base }

func (*Gate) Type() session.LobbyType { return session.LobbyGate }

func (g *Gate) Commands() []command.Declaration { return handler.GateCommands(g.h) }

// Account adds character management and clan lookups.
type Account struct{ base }

func (*Account) Type() session.LobbyType { return session.LobbyAccount }

func (a *Account) Commands() []command.Declaration { return handler.AccountCommands(a.h) }

// Game hosts matches. Its keep-alive also tells the game that its host is
// still connected.
type Game struct {
	base
	guards *guard.Guards
	beacon HostBeacon
}

func (*Game) Type() session.LobbyType { return session.LobbyGame }

func (g *Game) Commands() []command.Declaration { return handler.GameCommands(g.h) }

func (g *Game) OnPing(ctx context.Context, c net.Client) {
	_, _, p, ok := g.guards.UserCharacterPlayer(ctx, c.ID(), guard.Silent)
	if !ok || !p.Host || g.beacon == nil {
		return
	}
	if err := g.beacon.HostAlive(ctx, p); err != nil {
		g.log.Warn("host keep-alive not recorded",
			zap.Uint64("conn", c.ID()), zap.Int64("game", p.GameID), zap.Error(err))
	}
}
