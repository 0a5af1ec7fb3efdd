package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/l1jgo/lobby/internal/session"
)

// ErrNotFound reports an update against a row that does not exist.
var ErrNotFound = errors.New("not found")

type LobbyRepo struct {
	db *DB
}

func NewLobbyRepo(db *DB) *LobbyRepo {
	return &LobbyRepo{db: db}
}

// LoadLobbies returns the descriptors for ids, ordered by id. Every id must
// exist.
func (r *LobbyRepo) LoadLobbies(ctx context.Context, ids []int32) ([]*session.Lobby, error) {
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT id, type, name, players FROM lobbies WHERE id = ANY($1) ORDER BY id`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("load lobbies: %w", err)
	}
	defer rows.Close()

	found := make(map[int32]bool, len(ids))
	var result []*session.Lobby
	for rows.Next() {
		var (
			id      int32
			typ     string
			name    string
			players int32
		)
		if err := rows.Scan(&id, &typ, &name, &players); err != nil {
			return nil, err
		}
		lt, err := session.ParseLobbyType(typ)
		if err != nil {
			return nil, fmt.Errorf("lobby %d: %w", id, err)
		}
		found[id] = true
		result = append(result, session.NewLobby(id, lt, name, players))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if !found[id] {
			return nil, fmt.Errorf("lobby %d: %w", id, ErrNotFound)
		}
	}
	return result, nil
}

// UpdateLobby saves the player count of l.
func (r *LobbyRepo) UpdateLobby(ctx context.Context, l *session.Lobby) error {
	tag, err := r.db.q(ctx).Exec(ctx,
		`UPDATE lobbies SET players = $2, updated_at = NOW() WHERE id = $1`,
		l.ID, l.PlayerCount(),
	)
	if err != nil {
		return fmt.Errorf("update lobby %d: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update lobby %d: %w", l.ID, ErrNotFound)
	}
	return nil
}
