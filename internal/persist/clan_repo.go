package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/l1jgo/lobby/internal/session"
)

// ClanRow represents a row from the clans table with its member count.
type ClanRow struct {
	ID      int64
	Name    string
	Members int32
}

// ClanRepo handles clan lookups.
type ClanRepo struct {
	db *DB
}

func NewClanRepo(db *DB) *ClanRepo {
	return &ClanRepo{db: db}
}

// Member returns nil and no error when the character has no clan.
func (r *ClanRepo) Member(ctx context.Context, characterID int64) (*session.ClanMember, error) {
	m := &session.ClanMember{}
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT character_id, clan_id, rank FROM clan_members WHERE character_id = $1`, characterID,
	).Scan(&m.CharacterID, &m.ClanID, &m.Rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clan member %d: %w", characterID, err)
	}
	return m, nil
}

// Info returns nil and no error when the clan does not exist.
func (r *ClanRepo) Info(ctx context.Context, clanID int64) (*ClanRow, error) {
	c := &ClanRow{}
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT c.id, c.name, COUNT(m.character_id)::int
		 FROM clans c LEFT JOIN clan_members m ON m.clan_id = c.id
		 WHERE c.id = $1
		 GROUP BY c.id, c.name`, clanID,
	).Scan(&c.ID, &c.Name, &c.Members)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clan %d: %w", clanID, err)
	}
	return c, nil
}
