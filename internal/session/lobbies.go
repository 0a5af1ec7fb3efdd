package session

import (
	"sort"
	"sync"
)

// Lobbies maps lobby id to descriptor. Safe for concurrent use.
type Lobbies struct {
	mu      sync.RWMutex
	lobbies map[int32]*Lobby
}

func NewLobbies() *Lobbies {
	return &Lobbies{lobbies: make(map[int32]*Lobby)}
}

func (r *Lobbies) Put(l *Lobby) {
	r.mu.Lock()
	r.lobbies[l.ID] = l
	r.mu.Unlock()
}

// Remove deletes the lobby and returns it, or nil.
func (r *Lobbies) Remove(id int32) *Lobby {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[id]
	if !ok {
		return nil
	}
	delete(r.lobbies, id)
	return l
}

func (r *Lobbies) Get(id int32) *Lobby {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lobbies[id]
}

// FindOne returns a lobby matching pred, or nil.
func (r *Lobbies) FindOne(pred func(*Lobby) bool) *Lobby {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.lobbies {
		if pred(l) {
			return l
		}
	}
	return nil
}

// All returns every lobby ordered by id.
func (r *Lobbies) All() []*Lobby {
	r.mu.RLock()
	out := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		out = append(out, l)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
