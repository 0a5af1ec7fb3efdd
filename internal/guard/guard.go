// Package guard resolves the session state a command needs and reports the
// first missing piece to the client.
package guard

import (
	"context"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/session"
)

// Sender is the write side of a connection.
type Sender interface {
	Send(frame []byte) error
}

// Reporter decides what a failed guard tells the client.
type Reporter interface {
	Fail(code packet.ErrorCode)
}

type loud struct {
	conn Sender
	cmd  uint16
}

// Loud reports a failure as one structured error frame for replyCmd.
func Loud(conn Sender, replyCmd uint16) Reporter {
	return loud{conn: conn, cmd: replyCmd}
}

func (l loud) Fail(code packet.ErrorCode) {
	_ = l.conn.Send(packet.EncodeError(l.cmd, code))
}

type silent struct{}

func (silent) Fail(packet.ErrorCode) {}

// Silent swallows failures. Used where the client expects no answer, such
// as keep-alive processing.
var Silent Reporter = silent{}

// Store looks up associations that live in persistence. Both methods
// return nil and no error when the association does not exist.
type Store interface {
	Player(ctx context.Context, characterID int64) (*session.Player, error)
	ClanMember(ctx context.Context, characterID int64) (*session.ClanMember, error)
}

// Guards checks preconditions against the session registry and the store.
type Guards struct {
	sessions *session.Sessions
	store    Store
	log      *zap.Logger
}

func New(sessions *session.Sessions, store Store, log *zap.Logger) *Guards {
	return &Guards{sessions: sessions, store: store, log: log}
}

// User requires an authenticated session for connID.
func (g *Guards) User(connID uint64, r Reporter) (*session.User, bool) {
	u := g.sessions.Get(connID)
	if u == nil {
		r.Fail(packet.ErrInvalidSession)
		return nil, false
	}
	return u, true
}

// Character requires a selected character.
func (g *Guards) Character(u *session.User, r Reporter) (*session.Character, bool) {
	c := u.Character()
	if c == nil {
		r.Fail(packet.ErrInvalidSession)
		return nil, false
	}
	return c, true
}

// Player requires the character to be in a game.
func (g *Guards) Player(ctx context.Context, c *session.Character, r Reporter) (*session.Player, bool) {
	p, err := g.store.Player(ctx, c.ID)
	if err != nil {
		g.log.Warn("player lookup failed", zap.Int64("character", c.ID), zap.Error(err))
		r.Fail(packet.ErrInvalidSession)
		return nil, false
	}
	if p == nil {
		r.Fail(packet.ErrInvalidSession)
		return nil, false
	}
	return p, true
}

// ClanMember requires the character to belong to a clan.
func (g *Guards) ClanMember(ctx context.Context, c *session.Character, r Reporter) (*session.ClanMember, bool) {
	m, err := g.store.ClanMember(ctx, c.ID)
	if err != nil {
		g.log.Warn("clan member lookup failed", zap.Int64("character", c.ID), zap.Error(err))
		r.Fail(packet.ErrClanNotAMember)
		return nil, false
	}
	if m == nil {
		r.Fail(packet.ErrClanNotAMember)
		return nil, false
	}
	return m, true
}

// Role requires at least min.
func (g *Guards) Role(u *session.User, min session.Role, r Reporter) bool {
	if u.Role < min {
		r.Fail(packet.ErrGeneral)
		return false
	}
	return true
}

func (g *Guards) UserAndCharacter(connID uint64, r Reporter) (*session.User, *session.Character, bool) {
	u, ok := g.User(connID, r)
	if !ok {
		return nil, nil, false
	}
	c, ok := g.Character(u, r)
	if !ok {
		return nil, nil, false
	}
	return u, c, true
}

func (g *Guards) UserCharacterPlayer(ctx context.Context, connID uint64, r Reporter) (*session.User, *session.Character, *session.Player, bool) {
	u, c, ok := g.UserAndCharacter(connID, r)
	if !ok {
		return nil, nil, nil, false
	}
	p, ok := g.Player(ctx, c, r)
	if !ok {
		return nil, nil, nil, false
	}
	return u, c, p, true
}

func (g *Guards) UserCharacterClanMember(ctx context.Context, connID uint64, r Reporter) (*session.User, *session.Character, *session.ClanMember, bool) {
	u, c, ok := g.UserAndCharacter(connID, r)
	if !ok {
		return nil, nil, nil, false
	}
	m, ok := g.ClanMember(ctx, c, r)
	if !ok {
		return nil, nil, nil, false
	}
	return u, c, m, true
}
