package handler

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/session"
)

// lobbyList processes CmdLobbyList.
// Reply: [H count] then per lobby [D id][C type][S name][D players]
func (d *Deps) lobbyList(c *command.Context) bool {
	if _, ok := d.Guards.User(c.Conn.ID(), guard.Loud(c.Conn, CmdLobbyList)); !ok {
		return false
	}

	all := truncate(d.Lobbies.All(), math.MaxUint16)
	w := packet.NewWriter()
	w.WriteH(uint16(len(all)))
	for _, l := range all {
		w.WriteD(l.ID)
		w.WriteC(byte(l.Type))
		w.WriteS(l.Name)
		w.WriteD(l.PlayerCount())
	}
	return c.ReplyPayload(CmdLobbyList, w.Bytes()) == nil
}

// joinLobby processes CmdJoinLobby: the selected character enters the lobby
// served by this connection.
// Reply: [D 0]
func (d *Deps) joinLobby(c *command.Context) bool {
	_, ch, ok := d.Guards.UserAndCharacter(c.Conn.ID(), guard.Loud(c.Conn, CmdJoinLobby))
	if !ok {
		return false
	}
	id := lobbyID(c)
	if id == 0 {
		c.ReplyError(CmdJoinLobby, packet.ErrGeneral)
		return false
	}
	if !d.setCharacterLobby(c, ch, id) {
		c.ReplyError(CmdJoinLobby, packet.ErrGeneral)
		return false
	}
	c.ReplyResult(CmdJoinLobby, 0)
	return true
}

// leaveLobby processes CmdLeaveLobby.
// Reply: [D 0]
func (d *Deps) leaveLobby(c *command.Context) bool {
	_, ch, ok := d.Guards.UserAndCharacter(c.Conn.ID(), guard.Loud(c.Conn, CmdLeaveLobby))
	if !ok {
		return false
	}
	if ch.Lobby() == 0 {
		c.ReplyResult(CmdLeaveLobby, 0)
		return true
	}
	if !d.setCharacterLobby(c, ch, 0) {
		c.ReplyError(CmdLeaveLobby, packet.ErrGeneral)
		return false
	}
	c.ReplyResult(CmdLeaveLobby, 0)
	return true
}

// setCharacterLobby persists the new association and applies it in memory
// only once the write has committed.
func (d *Deps) setCharacterLobby(c *command.Context, ch *session.Character, id int32) bool {
	ctx, cancel := context.WithTimeout(c.Context(), dbTimeout)
	defer cancel()

	prev := ch.Lobby()
	ch.SetLobby(id)
	err := d.Tx.WithTx(ctx, func(ctx context.Context) error {
		return d.Characters.UpdateCharacter(ctx, ch)
	})
	if err != nil {
		ch.SetLobby(prev)
		c.Log.Error("update character lobby", zap.Int64("character", ch.ID), zap.Error(err))
		return false
	}
	return true
}

// membersOf returns the sessions whose character sits in lobby id.
func (d *Deps) membersOf(id int32) []*session.User {
	return d.Sessions.Find(func(u *session.User) bool {
		ch := u.Character()
		return ch != nil && ch.Lobby() == id
	})
}

// lobbyMembers processes CmdLobbyMembers.
// Reply: [H count] then per member [Q character id][S name]
func (d *Deps) lobbyMembers(c *command.Context) bool {
	if _, _, ok := d.Guards.UserAndCharacter(c.Conn.ID(), guard.Loud(c.Conn, CmdLobbyMembers)); !ok {
		return false
	}

	members := truncate(d.membersOf(lobbyID(c)), math.MaxUint16)
	w := packet.NewWriter()
	w.WriteH(uint16(len(members)))
	for _, u := range members {
		ch := u.Character()
		if ch == nil {
			// Deselected after the scan; keep the count consistent.
			w.WriteQ(0)
			w.WriteS("")
			continue
		}
		w.WriteQ(ch.ID)
		w.WriteS(ch.Name)
	}
	return c.ReplyPayload(CmdLobbyMembers, w.Bytes()) == nil
}
