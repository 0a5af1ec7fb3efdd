package lobby

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/core/system"
	"github.com/l1jgo/lobby/internal/observability"
	"github.com/l1jgo/lobby/internal/session"
)

// LobbyStore persists refreshed lobby descriptors.
type LobbyStore interface {
	UpdateLobby(ctx context.Context, l *session.Lobby) error
}

// Population recounts the sessions attached to each lobby and publishes the
// result. Counts are snapshots; sessions may come and go during a pass.
type Population struct {
	lobbies  *session.Lobbies
	sessions *session.Sessions
	store    LobbyStore
	metrics  *observability.Metrics
	interval time.Duration
	log      *zap.Logger
}

func NewPopulation(lobbies *session.Lobbies, sessions *session.Sessions, store LobbyStore, metrics *observability.Metrics, interval time.Duration, log *zap.Logger) *Population {
	return &Population{
		lobbies:  lobbies,
		sessions: sessions,
		store:    store,
		metrics:  metrics,
		interval: interval,
		log:      log,
	}
}

func (p *Population) Name() string            { return "lobby-population" }
func (p *Population) Phase() system.Phase     { return system.PhaseUpdate }
func (p *Population) Interval() time.Duration { return p.interval }

func (p *Population) Update(ctx context.Context) {
	for _, l := range p.lobbies.All() {
		id := l.ID
		n := int32(len(p.sessions.Find(func(u *session.User) bool { return u.LobbyID == id })))
		l.SetPlayerCount(n)
		p.metrics.SetLobbyPlayers(id, n)
		if p.store == nil {
			continue
		}
		if err := p.store.UpdateLobby(ctx, l); err != nil {
			p.log.Warn("persist lobby population", zap.Int32("lobby", id), zap.Error(err))
		}
	}
	p.metrics.SetSessions(p.sessions.Len())
}
