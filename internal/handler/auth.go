package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/session"
)

const (
	maxAccountName = 32
	minPassword    = 4
)

// login processes CmdLogin.
// Format: [account\0][password\0]
// Reply:  [D 0][Q account id][C role][16 bytes session key]
func (d *Deps) login(c *command.Context) bool {
	r := c.Reader()
	name := strings.ToLower(strings.TrimSpace(r.ReadS()))
	password := r.ReadS()

	if d.Sessions.Get(c.Conn.ID()) != nil {
		c.Log.Debug("login on authenticated connection")
		c.ReplyError(CmdLogin, packet.ErrGeneral)
		return false
	}
	if name == "" || len(name) > maxAccountName || len(password) < minPassword {
		c.ReplyError(CmdLogin, packet.ErrGeneral)
		return false
	}

	ctx, cancel := context.WithTimeout(c.Context(), dbTimeout)
	defer cancel()

	account, err := d.Accounts.Load(ctx, name)
	if err != nil {
		c.Log.Error("load account", zap.String("account", name), zap.Error(err))
		c.ReplyError(CmdLogin, packet.ErrGeneral)
		return false
	}

	if account == nil {
		if !d.AutoCreateAccounts {
			c.ReplyError(CmdLogin, packet.ErrGeneral)
			return false
		}
		account, err = d.Accounts.Create(ctx, name, password, c.Conn.RemoteAddr())
		if err != nil {
			c.Log.Error("create account", zap.String("account", name), zap.Error(err))
			c.ReplyError(CmdLogin, packet.ErrGeneral)
			return false
		}
		c.Log.Info("account created", zap.String("account", name))
	} else if !d.Accounts.ValidatePassword(account.PasswordHash, password) {
		c.Log.Info("wrong password", zap.String("account", name))
		c.ReplyError(CmdLogin, packet.ErrGeneral)
		return false
	}

	if account.Banned {
		c.ReplyError(CmdLogin, packet.ErrGeneral)
		return false
	}

	u := session.NewUser(c.Conn.ID(), account.ID, account.Name, account.Role, lobbyID(c))
	u.Conn = c.Conn
	if !d.Sessions.Claim(u) {
		c.Log.Info("account already online", zap.String("account", name))
		c.ReplyError(CmdLogin, packet.ErrGeneral)
		return false
	}
	d.Metrics.SetSessions(d.Sessions.Len())

	if err := d.Accounts.UpdateLastActive(ctx, account.ID, c.Conn.RemoteAddr()); err != nil {
		c.Log.Warn("update last active", zap.Error(err))
	}

	w := packet.NewWriter()
	w.WriteD(0)
	w.WriteQ(account.ID)
	w.WriteC(byte(account.Role))
	w.WriteBytes(u.Key[:])
	if err := c.ReplyPayload(CmdLogin, w.Bytes()); err != nil {
		return false
	}

	c.Log.Info("login", zap.String("account", name), zap.Int32("lobby", u.LobbyID))
	return true
}
