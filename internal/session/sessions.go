package session

import "sync"

// Sessions maps connection id to User. The map is sharded; every method is
// safe for concurrent use and each call is atomic on its own. Results are
// snapshots and may be stale by the next call.
//
// Sessions also records which connection holds each account, so that a
// second login for the same account can be refused atomically (Claim).
type Sessions struct {
	shards []*sessionShard
	mask   uint64

	// Lock order: accountsMu before any shard lock.
	accountsMu sync.Mutex
	accounts   map[int64]uint64
}

type sessionShard struct {
	mu    sync.RWMutex
	users map[uint64]*User
}

// NewSessions creates a registry with shardCount shards, rounded up to a
// power of two. shardCount <= 0 defaults to 32.
func NewSessions(shardCount int) *Sessions {
	if shardCount <= 0 {
		shardCount = 32
	}
	n := nextPowerOfTwo(uint64(shardCount))
	s := &Sessions{shards: make([]*sessionShard, n), mask: n - 1, accounts: make(map[int64]uint64)}
	for i := range s.shards {
		s.shards[i] = &sessionShard{users: make(map[uint64]*User)}
	}
	return s
}

func (s *Sessions) shard(connID uint64) *sessionShard {
	return s.shards[connID&s.mask]
}

// Put stores u under u.ConnID, replacing any previous session, and makes
// the connection the holder of u.AccountID.
func (s *Sessions) Put(u *User) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	s.store(u)
}

// Claim stores u only if no other connection holds a session for
// u.AccountID, and reports whether it did. The check and the insert happen
// under one lock, so of two concurrent logins for one account exactly one
// succeeds.
func (s *Sessions) Claim(u *User) bool {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	if holder, ok := s.accounts[u.AccountID]; ok && holder != u.ConnID {
		return false
	}
	s.store(u)
	return true
}

// store requires accountsMu.
func (s *Sessions) store(u *User) {
	sh := s.shard(u.ConnID)
	sh.mu.Lock()
	prev := sh.users[u.ConnID]
	sh.users[u.ConnID] = u
	sh.mu.Unlock()

	if prev != nil && prev.AccountID != u.AccountID && s.accounts[prev.AccountID] == u.ConnID {
		delete(s.accounts, prev.AccountID)
	}
	s.accounts[u.AccountID] = u.ConnID
}

// Remove deletes the session of connID and returns it, or nil. The account
// held by the session is released.
func (s *Sessions) Remove(connID uint64) *User {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	sh := s.shard(connID)
	sh.mu.Lock()
	u, ok := sh.users[connID]
	if ok {
		delete(sh.users, connID)
	}
	sh.mu.Unlock()
	if !ok {
		return nil
	}
	if s.accounts[u.AccountID] == connID {
		delete(s.accounts, u.AccountID)
	}
	return u
}

// Get returns the session of connID, or nil.
func (s *Sessions) Get(connID uint64) *User {
	sh := s.shard(connID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.users[connID]
}

// Find returns every session matching pred. Shards are scanned one at a
// time, so the result is a point-in-time approximation under concurrent
// mutation. pred must not call back into the registry.
func (s *Sessions) Find(pred func(*User) bool) []*User {
	var out []*User
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, u := range sh.users {
			if pred(u) {
				out = append(out, u)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of sessions.
func (s *Sessions) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.users)
		sh.mu.RUnlock()
	}
	return n
}

func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
