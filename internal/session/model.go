// Package session holds per-connection session state and the process-wide
// registries that index it.
package session

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Role is an account permission level. Higher values include lower ones.
type Role int16

const (
	RolePlayer    Role = 0
	RoleModerator Role = 1
	RoleAdmin     Role = 2
)

func (r Role) String() string {
	switch r {
	case RolePlayer:
		return "player"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("Role(%d)", int16(r))
	}
}

// Sender delivers encoded frames to a connection.
type Sender interface {
	Send(frame []byte) error
}

// User is the authenticated state of one live connection.
type User struct {
	ConnID    uint64
	AccountID int64
	Name      string
	Role      Role
	Key       uuid.UUID
	// LobbyID is the lobby whose listener accepted the connection.
	LobbyID int32
	// Conn reaches the user's connection for server pushes. May be nil.
	Conn Sender

	character atomic.Pointer[Character]
}

// NewUser creates a session record with a fresh session key.
func NewUser(connID uint64, accountID int64, name string, role Role, lobbyID int32) *User {
	return &User{
		ConnID:    connID,
		AccountID: accountID,
		Name:      name,
		Role:      role,
		Key:       uuid.New(),
		LobbyID:   lobbyID,
	}
}

// Character returns the currently selected character, or nil.
func (u *User) Character() *Character {
	return u.character.Load()
}

// SetCharacter replaces the current character; nil clears it.
func (u *User) SetCharacter(c *Character) {
	u.character.Store(c)
}

// Character is a playable character owned by an account. Only the lobby
// association changes while the character is loaded.
type Character struct {
	ID        int64
	AccountID int64
	Name      string

	lobby atomic.Int32
}

// Lobby returns the lobby the character currently sits in; 0 means none.
func (c *Character) Lobby() int32 {
	return c.lobby.Load()
}

func (c *Character) SetLobby(id int32) {
	c.lobby.Store(id)
}

// Player is a character's active in-game association.
type Player struct {
	CharacterID int64
	GameID      int64
	Host        bool
}

// ClanMember is a character's clan association.
type ClanMember struct {
	CharacterID int64
	ClanID      int64
	Rank        int16
}

// LobbyType selects the command table and lifecycle hooks of a lobby.
type LobbyType int

const (
	LobbyGate LobbyType = iota
	LobbyAccount
	LobbyGame
)

func (t LobbyType) String() string {
	switch t {
	case LobbyGate:
		return "gate"
	case LobbyAccount:
		return "account"
	case LobbyGame:
		return "game"
	default:
		return fmt.Sprintf("LobbyType(%d)", int(t))
	}
}

// ParseLobbyType accepts the names produced by String.
func ParseLobbyType(s string) (LobbyType, error) {
	switch strings.ToLower(s) {
	case "gate":
		return LobbyGate, nil
	case "account":
		return LobbyAccount, nil
	case "game":
		return LobbyGame, nil
	}
	return 0, fmt.Errorf("unknown lobby type %q", s)
}

// Lobby describes a server partition. Descriptors live for the whole
// process; only the player count changes.
type Lobby struct {
	ID   int32
	Type LobbyType
	Name string

	players atomic.Int32
}

func NewLobby(id int32, typ LobbyType, name string, players int32) *Lobby {
	l := &Lobby{ID: id, Type: typ, Name: name}
	l.players.Store(players)
	return l
}

func (l *Lobby) PlayerCount() int32 {
	return l.players.Load()
}

func (l *Lobby) SetPlayerCount(n int32) {
	l.players.Store(n)
}
