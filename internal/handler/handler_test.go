package handler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/command"
	"github.com/l1jgo/lobby/internal/guard"
	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/persist"
	"github.com/l1jgo/lobby/internal/session"
	"github.com/l1jgo/lobby/internal/testutil"
)

type fakeStore struct {
	mu        sync.Mutex
	accounts  map[string]*persist.AccountRow
	chars     map[int64]*session.Character
	members   map[int64]*session.ClanMember
	clans     map[int64]*persist.ClanRow
	players   map[int64]*session.Player
	quits     []int64
	updateErr error
	updates   int

	// onLoad runs before every account lookup, outside the lock.
	onLoad func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*persist.AccountRow{},
		chars:    map[int64]*session.Character{},
		members:  map[int64]*session.ClanMember{},
		clans:    map[int64]*persist.ClanRow{},
		players:  map[int64]*session.Player{},
	}
}

func (s *fakeStore) Load(_ context.Context, name string) (*persist.AccountRow, error) {
	if s.onLoad != nil {
		s.onLoad()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[name], nil
}

func (s *fakeStore) Create(_ context.Context, name, raw, ip string) (*persist.AccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := &persist.AccountRow{ID: int64(len(s.accounts) + 1), Name: name, PasswordHash: raw, IP: ip}
	s.accounts[name] = row
	return row, nil
}

func (s *fakeStore) ValidatePassword(hash, raw string) bool { return hash == raw }

func (s *fakeStore) UpdateLastActive(context.Context, int64, string) error { return nil }

type fakeCharacters struct{ *fakeStore }

func (c fakeCharacters) Load(_ context.Context, id int64) (*session.Character, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chars[id], nil
}

func (c fakeCharacters) ListByAccount(_ context.Context, accountID int64) ([]*session.Character, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*session.Character
	for id := int64(1); id <= int64(len(c.chars)); id++ {
		if ch := c.chars[id]; ch != nil && ch.AccountID == accountID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c fakeCharacters) UpdateCharacter(context.Context, *session.Character) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	c.updates++
	return nil
}

func (s *fakeStore) Info(_ context.Context, id int64) (*persist.ClanRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clans[id], nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *fakeStore) Player(_ context.Context, id int64) (*session.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players[id], nil
}

func (s *fakeStore) QuitGame(_ context.Context, p *session.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, p.CharacterID)
	s.quits = append(s.quits, p.CharacterID)
	return nil
}

func (s *fakeStore) ClanMember(_ context.Context, id int64) (*session.ClanMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[id], nil
}

type env struct {
	t        *testing.T
	store    *fakeStore
	sessions *session.Sessions
	lobbies  *session.Lobbies
	deps     *Deps
	game     *command.Dispatcher
	account  *command.Dispatcher
	arena    *session.Lobby
}

func newEnv(t *testing.T) *env {
	store := newFakeStore()
	sessions := session.NewSessions(4)
	lobbies := session.NewLobbies()
	arena := session.NewLobby(3, session.LobbyGame, "arena", 0)
	lobbies.Put(session.NewLobby(1, session.LobbyGate, "gate", 0))
	lobbies.Put(arena)

	log := zap.NewNop()
	deps := &Deps{
		Sessions:   sessions,
		Lobbies:    lobbies,
		Guards:     guard.New(sessions, store, log),
		Accounts:   store,
		Characters: fakeCharacters{store},
		Clans:      store,
		Games:      store,
		Tx:         store,
		Log:        log,
	}
	build := func(typ session.LobbyType, decls []command.Declaration) *command.Dispatcher {
		reg, err := command.NewBuilder(log).Add(decls...).Build()
		require.NoError(t, err)
		return command.NewDispatcher(reg, typ, nil, log)
	}
	return &env{
		t:        t,
		store:    store,
		sessions: sessions,
		lobbies:  lobbies,
		deps:     deps,
		game:     build(session.LobbyGame, GameCommands(deps)),
		account:  build(session.LobbyAccount, AccountCommands(deps)),
		arena:    arena,
	}
}

func (e *env) do(conn *testutil.FakeConn, cmd uint16, payload []byte) command.Outcome {
	return e.game.Dispatch(context.Background(), conn, packet.New(cmd, payload), e.arena)
}

func (e *env) addAccount(name, password string, role session.Role) *persist.AccountRow {
	row := &persist.AccountRow{ID: int64(len(e.store.accounts) + 1), Name: name, PasswordHash: password, Role: role}
	e.store.accounts[name] = row
	return row
}

func (e *env) addCharacter(accountID int64, name string) *session.Character {
	ch := &session.Character{ID: int64(len(e.store.chars) + 1), AccountID: accountID, Name: name}
	e.store.chars[ch.ID] = ch
	return ch
}

func loginPayload(name, password string) []byte {
	w := packet.NewWriter()
	w.WriteS(name)
	w.WriteS(password)
	return w.Bytes()
}

func idPayload(id int64) []byte {
	w := packet.NewWriter()
	w.WriteQ(id)
	return w.Bytes()
}

func textPayload(s string) []byte {
	w := packet.NewWriter()
	w.WriteS(s)
	return w.Bytes()
}

func lastError(t *testing.T, conn *testutil.FakeConn) packet.ErrorCode {
	t.Helper()
	pkts := conn.Packets()
	require.NotEmpty(t, pkts)
	code, ok := packet.DecodeError(pkts[len(pkts)-1].Payload)
	require.True(t, ok, "last frame is not an error")
	return code
}

// enter logs in and selects a fresh character.
func (e *env) enter(conn *testutil.FakeConn, name string, role session.Role) *session.Character {
	e.t.Helper()
	acct := e.addAccount(name, "password", role)
	ch := e.addCharacter(acct.ID, name+"-char")
	require.Equal(e.t, command.Handled, e.do(conn, CmdLogin, loginPayload(name, "password")))
	require.Equal(e.t, command.Handled, e.do(conn, CmdSelectCharacter, idPayload(ch.ID)))
	conn.Reset()
	return ch
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	acct := e.addAccount("alice", "secret", session.RoleModerator)
	conn := testutil.NewFakeConn(7)

	require.Equal(t, command.Handled, e.do(conn, CmdLogin, loginPayload("Alice", "secret")))

	u := e.sessions.Get(7)
	require.NotNil(t, u)
	assert.Equal(t, acct.ID, u.AccountID)
	assert.Equal(t, int32(3), u.LobbyID)
	assert.Equal(t, session.RoleModerator, u.Role)
	assert.Same(t, conn, u.Conn)

	pkts := conn.Packets()
	require.Len(t, pkts, 1)
	r := packet.NewReader(pkts[0].Payload)
	assert.Equal(t, int32(0), r.ReadD())
	assert.Equal(t, acct.ID, r.ReadQ())
	assert.Equal(t, byte(session.RoleModerator), r.ReadC())
	assert.Equal(t, u.Key[:], r.ReadBytes(16))

	// A second login on the same connection is refused.
	assert.Equal(t, command.Failed, e.do(conn, CmdLogin, loginPayload("alice", "secret")))
	assert.Equal(t, packet.ErrGeneral, lastError(t, conn))
}

func TestLogin_Rejections(t *testing.T) {
	e := newEnv(t)
	e.addAccount("alice", "secret", session.RolePlayer)

	wrong := testutil.NewFakeConn(1)
	assert.Equal(t, command.Failed, e.do(wrong, CmdLogin, loginPayload("alice", "nope")))
	assert.Equal(t, packet.ErrGeneral, lastError(t, wrong))

	unknown := testutil.NewFakeConn(2)
	assert.Equal(t, command.Failed, e.do(unknown, CmdLogin, loginPayload("bob", "secret")))

	first := testutil.NewFakeConn(3)
	require.Equal(t, command.Handled, e.do(first, CmdLogin, loginPayload("alice", "secret")))
	second := testutil.NewFakeConn(4)
	assert.Equal(t, command.Failed, e.do(second, CmdLogin, loginPayload("alice", "secret")))

	assert.Equal(t, 1, e.sessions.Len())
}

func TestLogin_ConcurrentSameAccount(t *testing.T) {
	e := newEnv(t)
	e.addAccount("alice", "secret", session.RolePlayer)

	// Both logins finish the account lookup before either registers.
	var arrived sync.WaitGroup
	arrived.Add(2)
	e.store.onLoad = func() {
		arrived.Done()
		arrived.Wait()
	}

	outcomes := make([]command.Outcome, 2)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = e.do(testutil.NewFakeConn(uint64(100+i)), CmdLogin, loginPayload("alice", "secret"))
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []command.Outcome{command.Handled, command.Failed}, outcomes)
	assert.Len(t, e.sessions.Find(func(u *session.User) bool { return u.Name == "alice" }), 1)
}

func TestLogin_AccountFreedOnRemove(t *testing.T) {
	e := newEnv(t)
	e.addAccount("alice", "secret", session.RolePlayer)

	require.Equal(t, command.Handled, e.do(testutil.NewFakeConn(1), CmdLogin, loginPayload("alice", "secret")))
	require.NotNil(t, e.sessions.Remove(1))
	assert.Equal(t, command.Handled, e.do(testutil.NewFakeConn(2), CmdLogin, loginPayload("alice", "secret")))
}

func TestLogin_AutoCreate(t *testing.T) {
	e := newEnv(t)
	e.deps.AutoCreateAccounts = true
	conn := testutil.NewFakeConn(1)

	require.Equal(t, command.Handled, e.do(conn, CmdLogin, loginPayload("carol", "secret")))
	assert.NotNil(t, e.store.accounts["carol"])
	assert.NotNil(t, e.sessions.Get(1))
}

func TestLobbyList(t *testing.T) {
	e := newEnv(t)
	conn := testutil.NewFakeConn(1)
	lobby := e.arena

	assert.Equal(t, command.Failed, e.account.Dispatch(context.Background(), conn, packet.New(CmdLobbyList, nil), lobby))
	assert.Equal(t, packet.ErrInvalidSession, lastError(t, conn))

	e.enter(conn, "alice", session.RolePlayer)
	e.arena.SetPlayerCount(9)
	require.Equal(t, command.Handled, e.account.Dispatch(context.Background(), conn, packet.New(CmdLobbyList, nil), lobby))

	pkts := conn.Packets()
	require.Len(t, pkts, 1)
	r := packet.NewReader(pkts[0].Payload)
	require.Equal(t, uint16(2), r.ReadH())
	assert.Equal(t, int32(1), r.ReadD())
	assert.Equal(t, byte(session.LobbyGate), r.ReadC())
	assert.Equal(t, "gate", r.ReadS())
	assert.Equal(t, int32(0), r.ReadD())
	assert.Equal(t, int32(3), r.ReadD())
	assert.Equal(t, byte(session.LobbyGame), r.ReadC())
	assert.Equal(t, "arena", r.ReadS())
	assert.Equal(t, int32(9), r.ReadD())
}

func TestLobbyList_NotInGameTable(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, command.Unknown, e.do(testutil.NewFakeConn(1), CmdLobbyList, nil))
}

func TestCharacters(t *testing.T) {
	e := newEnv(t)
	alice := e.addAccount("alice", "password", session.RolePlayer)
	bob := e.addAccount("bob", "password", session.RolePlayer)
	mine := e.addCharacter(alice.ID, "Ally")
	theirs := e.addCharacter(bob.ID, "Bobby")
	conn := testutil.NewFakeConn(1)

	assert.Equal(t, command.Failed, e.do(conn, CmdSelectCharacter, idPayload(mine.ID)))
	assert.Equal(t, packet.ErrInvalidSession, lastError(t, conn))

	require.Equal(t, command.Handled, e.do(conn, CmdLogin, loginPayload("alice", "password")))
	conn.Reset()

	require.Equal(t, command.Handled, e.do(conn, CmdCharacterList, nil))
	r := packet.NewReader(conn.Packets()[0].Payload)
	require.Equal(t, byte(1), r.ReadC())
	assert.Equal(t, mine.ID, r.ReadQ())
	assert.Equal(t, "Ally", r.ReadS())

	assert.Equal(t, command.Failed, e.do(conn, CmdSelectCharacter, idPayload(theirs.ID)))
	assert.Equal(t, packet.ErrGeneral, lastError(t, conn))
	assert.Nil(t, e.sessions.Get(1).Character())

	require.Equal(t, command.Handled, e.do(conn, CmdSelectCharacter, idPayload(mine.ID)))
	assert.Same(t, mine, e.sessions.Get(1).Character())
}

func TestSelectCharacter_ReleasesPrevious(t *testing.T) {
	e := newEnv(t)
	conn := testutil.NewFakeConn(1)
	first := e.enter(conn, "alice", session.RolePlayer)
	second := e.addCharacter(first.AccountID, "alice-alt")

	require.Equal(t, command.Handled, e.do(conn, CmdJoinLobby, nil))
	require.Equal(t, int32(3), first.Lobby())
	e.store.players[first.ID] = &session.Player{CharacterID: first.ID, GameID: 11}
	updates := e.store.updates

	require.Equal(t, command.Handled, e.do(conn, CmdSelectCharacter, idPayload(second.ID)))
	assert.Same(t, second, e.sessions.Get(1).Character())
	assert.Equal(t, int32(0), first.Lobby())
	assert.Equal(t, []int64{first.ID}, e.store.quits)
	assert.Equal(t, updates+1, e.store.updates)

	conn.Reset()
	require.Equal(t, command.Handled, e.do(conn, CmdCharacterList, nil))
	r := packet.NewReader(conn.Packets()[0].Payload)
	require.Equal(t, byte(2), r.ReadC())
	for i := 0; i < 2; i++ {
		r.ReadQ()
		r.ReadS()
		assert.Equal(t, int32(0), r.ReadD())
	}

	// Reselecting the current character leaves its lobby alone.
	require.Equal(t, command.Handled, e.do(conn, CmdJoinLobby, nil))
	require.Equal(t, command.Handled, e.do(conn, CmdSelectCharacter, idPayload(second.ID)))
	assert.Equal(t, int32(3), second.Lobby())
}

func TestSelectCharacter_ReleaseFailureKeepsCurrent(t *testing.T) {
	e := newEnv(t)
	conn := testutil.NewFakeConn(1)
	first := e.enter(conn, "alice", session.RolePlayer)
	second := e.addCharacter(first.AccountID, "alice-alt")
	require.Equal(t, command.Handled, e.do(conn, CmdJoinLobby, nil))
	e.store.updateErr = errors.New("db down")

	assert.Equal(t, command.Failed, e.do(conn, CmdSelectCharacter, idPayload(second.ID)))
	assert.Equal(t, packet.ErrGeneral, lastError(t, conn))
	assert.Same(t, first, e.sessions.Get(1).Character())
	assert.Equal(t, int32(3), first.Lobby())
}

func TestCharacterList_CountFitsPrefix(t *testing.T) {
	e := newEnv(t)
	acct := e.addAccount("alice", "password", session.RolePlayer)
	for i := 0; i < 300; i++ {
		e.addCharacter(acct.ID, "c")
	}
	conn := testutil.NewFakeConn(1)
	require.Equal(t, command.Handled, e.do(conn, CmdLogin, loginPayload("alice", "password")))
	conn.Reset()

	require.Equal(t, command.Handled, e.do(conn, CmdCharacterList, nil))
	r := packet.NewReader(conn.Packets()[0].Payload)
	require.Equal(t, byte(255), r.ReadC())
	for i := 0; i < 255; i++ {
		r.ReadQ()
		r.ReadS()
		r.ReadD()
	}
	assert.Equal(t, 0, r.Remaining())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, []int{1, 2}, truncate([]int{1, 2, 3}, 2))
	assert.Equal(t, []int{1}, truncate([]int{1}, 2))
	assert.Empty(t, truncate([]int(nil), 2))
}

func TestJoinLeaveAndMembers(t *testing.T) {
	e := newEnv(t)
	a := testutil.NewFakeConn(1)
	b := testutil.NewFakeConn(2)
	chA := e.enter(a, "alice", session.RolePlayer)
	chB := e.enter(b, "bob", session.RolePlayer)

	assert.Equal(t, command.Failed, e.do(testutil.NewFakeConn(9), CmdJoinLobby, nil))

	require.Equal(t, command.Handled, e.do(a, CmdJoinLobby, nil))
	require.Equal(t, command.Handled, e.do(b, CmdJoinLobby, nil))
	assert.Equal(t, int32(3), chA.Lobby())
	assert.Equal(t, int32(3), chB.Lobby())
	assert.Equal(t, 2, e.store.updates)

	a.Reset()
	require.Equal(t, command.Handled, e.do(a, CmdLobbyMembers, nil))
	r := packet.NewReader(a.Packets()[0].Payload)
	assert.Equal(t, uint16(2), r.ReadH())

	require.Equal(t, command.Handled, e.do(b, CmdLeaveLobby, nil))
	assert.Equal(t, int32(0), chB.Lobby())
	a.Reset()
	require.Equal(t, command.Handled, e.do(a, CmdLobbyMembers, nil))
	r = packet.NewReader(a.Packets()[0].Payload)
	assert.Equal(t, uint16(1), r.ReadH())
	assert.Equal(t, chA.ID, r.ReadQ())
}

func TestJoinLobby_PersistFailureKeepsState(t *testing.T) {
	e := newEnv(t)
	conn := testutil.NewFakeConn(1)
	ch := e.enter(conn, "alice", session.RolePlayer)
	e.store.updateErr = errors.New("db down")

	assert.Equal(t, command.Failed, e.do(conn, CmdJoinLobby, nil))
	assert.Equal(t, packet.ErrGeneral, lastError(t, conn))
	assert.Equal(t, int32(0), ch.Lobby())
}

func TestChat(t *testing.T) {
	e := newEnv(t)
	a := testutil.NewFakeConn(1)
	b := testutil.NewFakeConn(2)
	outside := testutil.NewFakeConn(3)
	chA := e.enter(a, "alice", session.RolePlayer)
	e.enter(b, "bob", session.RolePlayer)
	e.enter(outside, "eve", session.RolePlayer)
	require.Equal(t, command.Handled, e.do(a, CmdJoinLobby, nil))
	require.Equal(t, command.Handled, e.do(b, CmdJoinLobby, nil))
	a.Reset()
	b.Reset()

	require.Equal(t, command.Handled, e.do(a, CmdChat, textPayload("hello")))

	notify := b.Packets()
	require.Len(t, notify, 1)
	assert.Equal(t, CmdChatNotify, notify[0].Command)
	r := packet.NewReader(notify[0].Payload)
	assert.Equal(t, chA.ID, r.ReadQ())
	assert.Equal(t, "alice-char", r.ReadS())
	assert.Equal(t, byte(0), r.ReadC())
	assert.Equal(t, "hello", r.ReadS())
	assert.Empty(t, outside.Packets())

	// alice receives her own notify followed by the result.
	pkts := a.Packets()
	require.Len(t, pkts, 2)
	assert.Equal(t, CmdChat, pkts[1].Command)
	assert.Equal(t, int32(2), packet.NewReader(pkts[1].Payload).ReadD())

	assert.Equal(t, command.Failed, e.do(outside, CmdChat, textPayload("hi")))
	assert.Equal(t, packet.ErrGeneral, lastError(t, outside))
}

func TestChat_NoticeRequiresModerator(t *testing.T) {
	e := newEnv(t)
	player := testutil.NewFakeConn(1)
	mod := testutil.NewFakeConn(2)
	e.enter(player, "alice", session.RolePlayer)
	e.enter(mod, "mod", session.RoleModerator)

	assert.Equal(t, command.Failed, e.do(player, CmdChat, textPayload("/notice restart soon")))
	assert.Equal(t, packet.ErrGeneral, lastError(t, player))

	player.Reset()
	require.Equal(t, command.Handled, e.do(mod, CmdChat, textPayload("/notice restart soon")))
	notify := player.Packets()
	require.Len(t, notify, 1)
	r := packet.NewReader(notify[0].Payload)
	r.ReadQ()
	r.ReadS()
	assert.Equal(t, byte(1), r.ReadC())
	assert.Equal(t, "restart soon", r.ReadS())
}

func TestClanInfo(t *testing.T) {
	e := newEnv(t)
	conn := testutil.NewFakeConn(1)
	ch := e.enter(conn, "alice", session.RolePlayer)
	ctx := context.Background()

	assert.Equal(t, command.Failed, e.account.Dispatch(ctx, conn, packet.New(CmdClanInfo, nil), e.arena))
	assert.Equal(t, packet.ErrClanNotAMember, lastError(t, conn))

	e.store.members[ch.ID] = &session.ClanMember{CharacterID: ch.ID, ClanID: 5, Rank: 2}
	e.store.clans[5] = &persist.ClanRow{ID: 5, Name: "Knights", Members: 12}
	conn.Reset()
	require.Equal(t, command.Handled, e.account.Dispatch(ctx, conn, packet.New(CmdClanInfo, nil), e.arena))

	r := packet.NewReader(conn.Packets()[0].Payload)
	assert.Equal(t, int64(5), r.ReadQ())
	assert.Equal(t, "Knights", r.ReadS())
	assert.Equal(t, uint16(2), r.ReadH())
	assert.Equal(t, int32(12), r.ReadD())
}

func TestTables(t *testing.T) {
	d := &Deps{}
	ids := func(decls []command.Declaration) []uint16 {
		var out []uint16
		for _, dc := range decls {
			out = append(out, dc.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []uint16{CmdLogin, CmdLobbyList}, ids(GateCommands(d)))
	assert.ElementsMatch(t, []uint16{CmdLogin, CmdCharacterList, CmdSelectCharacter, CmdLobbyList, CmdClanInfo}, ids(AccountCommands(d)))
	assert.ElementsMatch(t, []uint16{
		CmdLogin, CmdCharacterList, CmdSelectCharacter,
		CmdJoinLobby, CmdLeaveLobby, CmdLobbyMembers, CmdChat,
	}, ids(GameCommands(d)))
}
