package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/l1jgo/lobby/internal/session"
)

// PlayerRepo tracks which characters are inside a game.
type PlayerRepo struct {
	db *DB
}

func NewPlayerRepo(db *DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// Active returns nil and no error when the character is not in a game.
func (r *PlayerRepo) Active(ctx context.Context, characterID int64) (*session.Player, error) {
	p := &session.Player{}
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT character_id, game_id, host FROM players WHERE character_id = $1`, characterID,
	).Scan(&p.CharacterID, &p.GameID, &p.Host)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active player %d: %w", characterID, err)
	}
	return p, nil
}

// Quit removes the character from its game. A departing host leaves the
// game without a host; an emptied game is deleted.
func (r *PlayerRepo) Quit(ctx context.Context, characterID int64) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		var (
			gameID int64
			host   bool
		)
		err := r.db.q(ctx).QueryRow(ctx,
			`DELETE FROM players WHERE character_id = $1 RETURNING game_id, host`, characterID,
		).Scan(&gameID, &host)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("quit game: %w", err)
		}
		if host {
			if _, err := r.db.q(ctx).Exec(ctx,
				`UPDATE games SET host_character_id = NULL WHERE id = $1`, gameID,
			); err != nil {
				return fmt.Errorf("clear host of game %d: %w", gameID, err)
			}
		}
		if _, err := r.db.q(ctx).Exec(ctx,
			`DELETE FROM games g WHERE g.id = $1
			 AND NOT EXISTS (SELECT 1 FROM players p WHERE p.game_id = g.id)`, gameID,
		); err != nil {
			return fmt.Errorf("drop empty game %d: %w", gameID, err)
		}
		return nil
	})
}

// TouchHost records a keep-alive from the host of gameID.
func (r *PlayerRepo) TouchHost(ctx context.Context, gameID int64) error {
	_, err := r.db.q(ctx).Exec(ctx,
		`UPDATE games SET host_seen_at = NOW() WHERE id = $1`, gameID,
	)
	return err
}
