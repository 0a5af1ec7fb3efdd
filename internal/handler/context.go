// Package handler implements the lobby command set.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/observability"
	"github.com/l1jgo/lobby/internal/persist"
	"github.com/l1jgo/lobby/internal/session"
)

const dbTimeout = 5 * time.Second

type Accounts interface {
	Load(ctx context.Context, name string) (*persist.AccountRow, error)
	Create(ctx context.Context, name, rawPassword, ip string) (*persist.AccountRow, error)
	ValidatePassword(hash, rawPassword string) bool
	UpdateLastActive(ctx context.Context, id int64, ip string) error
}

type Characters interface {
	Load(ctx context.Context, id int64) (*session.Character, error)
	ListByAccount(ctx context.Context, accountID int64) ([]*session.Character, error)
	UpdateCharacter(ctx context.Context, c *session.Character) error
}

type Clans interface {
	Info(ctx context.Context, clanID int64) (*persist.ClanRow, error)
}

// Games resolves and ends the game membership of a character.
type Games interface {
	Player(ctx context.Context, characterID int64) (*session.Player, error)
	QuitGame(ctx context.Context, p *session.Player) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps holds shared dependencies injected into all command handlers.
type Deps struct {
	Sessions   *session.Sessions
	Lobbies    *session.Lobbies
	Guards     *guard.Guards
	Accounts   Accounts
	Characters Characters
	Clans      Clans
	Games      Games
	Tx         Transactor
	Metrics    *observability.Metrics
	Log        *zap.Logger

	AutoCreateAccounts bool
}

func authCommands(d *Deps) []command.Declaration {
	return []command.Declaration{
		command.Declare(CmdLogin, "login", command.Predicate(d.login)),
	}
}

func lobbyListCommands(d *Deps) []command.Declaration {
	return []command.Declaration{
		command.Declare(CmdLobbyList, "lobby_list", command.Predicate(d.lobbyList)),
	}
}

func characterCommands(d *Deps) []command.Declaration {
	return []command.Declaration{
		command.Declare(CmdCharacterList, "character_list", command.Predicate(d.characterList)),
		command.Declare(CmdSelectCharacter, "select_character", command.Predicate(d.selectCharacter)),
	}
}

// GateCommands is the table of the entry lobby: login and lobby listing.
func GateCommands(d *Deps) []command.Declaration {
	return concat(authCommands(d), lobbyListCommands(d))
}

// AccountCommands adds character management and clan lookups.
func AccountCommands(d *Deps) []command.Declaration {
	return concat(
		authCommands(d),
		characterCommands(d),
		lobbyListCommands(d),
		[]command.Declaration{
			command.Declare(CmdClanInfo, "clan_info", command.Predicate(d.clanInfo)),
		},
	)
}

// GameCommands adds lobby membership and chat.
func GameCommands(d *Deps) []command.Declaration {
	return concat(
		authCommands(d),
		characterCommands(d),
		[]command.Declaration{
			command.Declare(CmdJoinLobby, "join_lobby", command.Predicate(d.joinLobby)),
			command.Declare(CmdLeaveLobby, "leave_lobby", command.Predicate(d.leaveLobby)),
			command.Declare(CmdLobbyMembers, "lobby_members", command.Predicate(d.lobbyMembers)),
			command.Declare(CmdChat, "chat", command.Predicate(d.chat)),
		},
	)
}

func concat(sets ...[]command.Declaration) []command.Declaration {
	var out []command.Declaration
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// truncate keeps at most n entries so a count prefix of limited width
// matches the entries written after it.
func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func lobbyID(c *command.Context) int32 {
	if c.Lobby == nil {
		return 0
	}
	return c.Lobby.ID
}
