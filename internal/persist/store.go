package persist

import (
	"context"

	"github.com/l1jgo/lobby/internal/session"
)

// Store bundles the repositories behind the narrow interfaces the guard,
// lobby and handler packages depend on.
type Store struct {
	DB         *DB
	Accounts   *AccountRepo
	Characters *CharacterRepo
	Lobbies    *LobbyRepo
	Players    *PlayerRepo
	Clans      *ClanRepo
}

func NewStore(db *DB) *Store {
	return &Store{
		DB:         db,
		Accounts:   NewAccountRepo(db),
		Characters: NewCharacterRepo(db),
		Lobbies:    NewLobbyRepo(db),
		Players:    NewPlayerRepo(db),
		Clans:      NewClanRepo(db),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.DB.WithTx(ctx, fn)
}

func (s *Store) Player(ctx context.Context, characterID int64) (*session.Player, error) {
	return s.Players.Active(ctx, characterID)
}

func (s *Store) ClanMember(ctx context.Context, characterID int64) (*session.ClanMember, error) {
	return s.Clans.Member(ctx, characterID)
}

func (s *Store) UpdateCharacter(ctx context.Context, c *session.Character) error {
	return s.Characters.UpdateCharacter(ctx, c)
}

func (s *Store) UpdateLobby(ctx context.Context, l *session.Lobby) error {
	return s.Lobbies.UpdateLobby(ctx, l)
}

// QuitGame removes the player from its game.
func (s *Store) QuitGame(ctx context.Context, p *session.Player) error {
	return s.Players.Quit(ctx, p.CharacterID)
}

// HostAlive records a keep-alive from a game host.
func (s *Store) HostAlive(ctx context.Context, p *session.Player) error {
	return s.Players.TouchHost(ctx, p.GameID)
}
