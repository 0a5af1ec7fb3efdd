package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/l1jgo/lobby/internal/session"
)

// Seeding helpers for the repository tests.

func (r *AccountRepo) SetRole(ctx context.Context, id int64, role session.Role) error {
	_, err := r.db.q(ctx).Exec(ctx,
		`UPDATE accounts SET role = $2 WHERE id = $1`,
		id, int16(role),
	)
	return err
}

// Create inserts a character for accountID.
func (r *CharacterRepo) Create(ctx context.Context, accountID int64, name string) (*session.Character, error) {
	c := &session.Character{AccountID: accountID, Name: name}
	err := r.db.q(ctx).QueryRow(ctx,
		`INSERT INTO characters (account_id, name) VALUES ($1, $2) RETURNING id`,
		accountID, name,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("create character %q: %w", name, err)
	}
	return c, nil
}

// Create inserts a lobby descriptor.
func (r *LobbyRepo) Create(ctx context.Context, l *session.Lobby) error {
	_, err := r.db.q(ctx).Exec(ctx,
		`INSERT INTO lobbies (id, type, name, players) VALUES ($1, $2, $3, $4)`,
		l.ID, l.Type.String(), l.Name, l.PlayerCount(),
	)
	if err != nil {
		return fmt.Errorf("create lobby %d: %w", l.ID, err)
	}
	return nil
}

// Host opens a game in lobbyID with characterID as host.
func (r *PlayerRepo) Host(ctx context.Context, lobbyID int32, characterID int64) (*session.Player, error) {
	p := &session.Player{CharacterID: characterID, Host: true}
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		if err := r.db.q(ctx).QueryRow(ctx,
			`INSERT INTO games (lobby_id, host_character_id, host_seen_at)
			 VALUES ($1, $2, NOW()) RETURNING id`,
			lobbyID, characterID,
		).Scan(&p.GameID); err != nil {
			return err
		}
		_, err := r.db.q(ctx).Exec(ctx,
			`INSERT INTO players (character_id, game_id, host) VALUES ($1, $2, TRUE)`,
			characterID, p.GameID,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("host game: %w", err)
	}
	return p, nil
}

// Join adds characterID to an existing game.
func (r *PlayerRepo) Join(ctx context.Context, gameID, characterID int64) (*session.Player, error) {
	_, err := r.db.q(ctx).Exec(ctx,
		`INSERT INTO players (character_id, game_id, host) VALUES ($1, $2, FALSE)`,
		characterID, gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("join game %d: %w", gameID, err)
	}
	return &session.Player{CharacterID: characterID, GameID: gameID}, nil
}

// HostSeen returns when the host of gameID last pinged.
func (r *PlayerRepo) HostSeen(ctx context.Context, gameID int64) (*time.Time, error) {
	var seen *time.Time
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT host_seen_at FROM games WHERE id = $1`, gameID,
	).Scan(&seen)
	if err != nil {
		return nil, fmt.Errorf("host seen %d: %w", gameID, err)
	}
	return seen, nil
}

// Create inserts a clan and returns its id.
func (r *ClanRepo) Create(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.q(ctx).QueryRow(ctx,
		`INSERT INTO clans (name) VALUES ($1) RETURNING id`, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create clan %q: %w", name, err)
	}
	return id, nil
}

func (r *ClanRepo) AddMember(ctx context.Context, clanID, characterID int64, rank int16) error {
	_, err := r.db.q(ctx).Exec(ctx,
		`INSERT INTO clan_members (character_id, clan_id, rank) VALUES ($1, $2, $3)`,
		characterID, clanID, rank,
	)
	if err != nil {
		return fmt.Errorf("add clan member %d: %w", characterID, err)
	}
	return nil
}
