package handler

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/session"
)

// characterList processes CmdCharacterList.
// Reply: [C count] then per character [Q id][S name][D lobby]
func (d *Deps) characterList(c *command.Context) bool {
	u, ok := d.Guards.User(c.Conn.ID(), guard.Loud(c.Conn, CmdCharacterList))
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(c.Context(), dbTimeout)
	defer cancel()
	chars, err := d.Characters.ListByAccount(ctx, u.AccountID)
	if err != nil {
		c.Log.Error("list characters", zap.Int64("account", u.AccountID), zap.Error(err))
		c.ReplyError(CmdCharacterList, packet.ErrGeneral)
		return false
	}

	chars = truncate(chars, math.MaxUint8)
	w := packet.NewWriter()
	w.WriteC(byte(len(chars)))
	for _, ch := range chars {
		w.WriteQ(ch.ID)
		w.WriteS(ch.Name)
		w.WriteD(ch.Lobby())
	}
	return c.ReplyPayload(CmdCharacterList, w.Bytes()) == nil
}

// selectCharacter processes CmdSelectCharacter.
// Format: [Q character id]
// Reply:  [D 0]
func (d *Deps) selectCharacter(c *command.Context) bool {
	u, ok := d.Guards.User(c.Conn.ID(), guard.Loud(c.Conn, CmdSelectCharacter))
	if !ok {
		return false
	}
	id := c.Reader().ReadQ()

	ctx, cancel := context.WithTimeout(c.Context(), dbTimeout)
	defer cancel()
	ch, err := d.Characters.Load(ctx, id)
	if err != nil {
		c.Log.Error("load character", zap.Int64("character", id), zap.Error(err))
		c.ReplyError(CmdSelectCharacter, packet.ErrGeneral)
		return false
	}
	if ch == nil || ch.AccountID != u.AccountID {
		c.Log.Warn("character not owned by account",
			zap.Int64("character", id), zap.Int64("account", u.AccountID))
		c.ReplyError(CmdSelectCharacter, packet.ErrGeneral)
		return false
	}

	if prev := u.Character(); prev != nil && prev.ID != ch.ID {
		if err := d.releaseCharacter(ctx, prev); err != nil {
			c.Log.Error("release previous character", zap.Int64("character", prev.ID), zap.Error(err))
			c.ReplyError(CmdSelectCharacter, packet.ErrGeneral)
			return false
		}
	}

	u.SetCharacter(ch)
	c.ReplyResult(CmdSelectCharacter, 0)
	return true
}

// releaseCharacter ends the game membership and lobby association of a
// character that is being deselected. On error the character keeps its
// lobby.
func (d *Deps) releaseCharacter(ctx context.Context, ch *session.Character) error {
	prev := ch.Lobby()
	err := d.Tx.WithTx(ctx, func(ctx context.Context) error {
		if d.Games != nil {
			p, err := d.Games.Player(ctx, ch.ID)
			if err != nil {
				return fmt.Errorf("load player: %w", err)
			}
			if p != nil {
				if err := d.Games.QuitGame(ctx, p); err != nil {
					return fmt.Errorf("quit game %d: %w", p.GameID, err)
				}
			}
		}
		if prev == 0 {
			return nil
		}
		ch.SetLobby(0)
		if err := d.Characters.UpdateCharacter(ctx, ch); err != nil {
			return fmt.Errorf("save character: %w", err)
		}
		return nil
	})
	if err != nil {
		ch.SetLobby(prev)
	}
	return err
}
