package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/l1jgo/lobby/internal/session"
)

type CharacterRepo struct {
	db *DB
}

func NewCharacterRepo(db *DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

func scanCharacter(row pgx.Row) (*session.Character, error) {
	c := &session.Character{}
	var lobbyID int32
	if err := row.Scan(&c.ID, &c.AccountID, &c.Name, &lobbyID); err != nil {
		return nil, err
	}
	c.SetLobby(lobbyID)
	return c, nil
}

// Load returns nil and no error when the character does not exist.
func (r *CharacterRepo) Load(ctx context.Context, id int64) (*session.Character, error) {
	c, err := scanCharacter(r.db.q(ctx).QueryRow(ctx,
		`SELECT id, account_id, name, lobby_id FROM characters WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load character %d: %w", id, err)
	}
	return c, nil
}

func (r *CharacterRepo) ListByAccount(ctx context.Context, accountID int64) ([]*session.Character, error) {
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT id, account_id, name, lobby_id
		 FROM characters
		 WHERE account_id = $1
		 ORDER BY id`, accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*session.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// UpdateCharacter saves the mutable fields of c.
func (r *CharacterRepo) UpdateCharacter(ctx context.Context, c *session.Character) error {
	tag, err := r.db.q(ctx).Exec(ctx,
		`UPDATE characters SET lobby_id = $2, updated_at = NOW() WHERE id = $1`,
		c.ID, c.Lobby(),
	)
	if err != nil {
		return fmt.Errorf("update character %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update character %d: %w", c.ID, ErrNotFound)
	}
	return nil
}
