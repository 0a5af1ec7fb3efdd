package handler

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/session"
)

const (
	maxChatRunes = 256
	// noticePrefix broadcasts to every lobby; moderators only.
	noticePrefix = "/notice "
)

// chat processes CmdChat.
// Format: [text\0]
// Reply:  [D recipients]; every recipient gets CmdChatNotify
// [Q character id][S name][C notice][S text]
func (d *Deps) chat(c *command.Context) bool {
	reporter := guard.Loud(c.Conn, CmdChat)
	u, ch, ok := d.Guards.UserAndCharacter(c.Conn.ID(), reporter)
	if !ok {
		return false
	}

	text := strings.TrimSpace(c.Reader().ReadS())
	if text == "" || utf8.RuneCountInString(text) > maxChatRunes {
		c.ReplyError(CmdChat, packet.ErrGeneral)
		return false
	}

	var recipients []*session.User
	notice := strings.HasPrefix(text, noticePrefix)
	if notice {
		if !d.Guards.Role(u, session.RoleModerator, reporter) {
			return false
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, noticePrefix))
		recipients = d.Sessions.Find(func(*session.User) bool { return true })
	} else {
		if ch.Lobby() == 0 || ch.Lobby() != lobbyID(c) {
			c.ReplyError(CmdChat, packet.ErrGeneral)
			return false
		}
		recipients = d.membersOf(ch.Lobby())
	}

	w := packet.NewWriter()
	w.WriteQ(ch.ID)
	w.WriteS(ch.Name)
	if notice {
		w.WriteC(1)
	} else {
		w.WriteC(0)
	}
	w.WriteS(text)
	frame, err := packet.Encode(CmdChatNotify, w.Bytes())
	if err != nil {
		c.ReplyError(CmdChat, packet.ErrGeneral)
		return false
	}

	sent := int32(0)
	for _, r := range recipients {
		if r.Conn == nil {
			continue
		}
		if err := r.Conn.Send(frame); err != nil {
			c.Log.Debug("chat delivery failed", zap.Uint64("to", r.ConnID), zap.Error(err))
			continue
		}
		sent++
	}
	c.ReplyResult(CmdChat, sent)
	return true
}
