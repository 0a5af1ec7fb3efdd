package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/net/packet"
)

// clanInfo processes CmdClanInfo.
// Reply: [Q clan id][S name][H rank][D members]
func (d *Deps) clanInfo(c *command.Context) bool {
	ctx, cancel := context.WithTimeout(c.Context(), dbTimeout)
	defer cancel()

	_, _, m, ok := d.Guards.UserCharacterClanMember(ctx, c.Conn.ID(), guard.Loud(c.Conn, CmdClanInfo))
	if !ok {
		return false
	}
	info, err := d.Clans.Info(ctx, m.ClanID)
	if err != nil || info == nil {
		c.Log.Error("load clan", zap.Int64("clan", m.ClanID), zap.Error(err))
		c.ReplyError(CmdClanInfo, packet.ErrGeneral)
		return false
	}

	w := packet.NewWriter()
	w.WriteQ(info.ID)
	w.WriteS(info.Name)
	w.WriteH(uint16(m.Rank))
	w.WriteD(info.Members)
	return c.ReplyPayload(CmdClanInfo, w.Bytes()) == nil
}
