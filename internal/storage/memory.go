package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/oauthapp/internal/oauth"
)

// MemDB is an in-memory store. A single mutex is held for the whole of a
// transaction, so transactions are serialised and readers never observe a
// partial write.
type MemDB struct {
	mu sync.Mutex

	clients   map[string]*oauth.Client
	users     map[string]*oauth.User
	usersByID map[int64]*oauth.User
	npms      map[string]int64
	tokens    map[string]*oauth.Token
	refreshes map[string]int64
	seq       int64
}

// NewMemoryDB returns an empty in-memory store.
func NewMemoryDB() *MemDB {
	return &MemDB{
		clients:   map[string]*oauth.Client{},
		users:     map[string]*oauth.User{},
		usersByID: map[int64]*oauth.User{},
		npms:      map[string]int64{},
		tokens:    map[string]*oauth.Token{},
		refreshes: map[string]int64{},
		seq:       1,
	}
}

// InTx runs fn under the store lock and undoes its writes if it fails.
func (m *MemDB) InTx(ctx context.Context, fn func(q oauth.Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{db: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *MemDB) FindClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{db: m}).FindClient(ctx, clientID)
}

func (m *MemDB) InsertClient(ctx context.Context, c *oauth.Client) error {
	return m.InTx(ctx, func(q oauth.Querier) error { return q.InsertClient(ctx, c) })
}

func (m *MemDB) FindUser(ctx context.Context, username string) (*oauth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{db: m}).FindUser(ctx, username)
}

func (m *MemDB) FindUserByID(ctx context.Context, id int64) (*oauth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{db: m}).FindUserByID(ctx, id)
}

func (m *MemDB) InsertUser(ctx context.Context, u *oauth.User) error {
	return m.InTx(ctx, func(q oauth.Querier) error { return q.InsertUser(ctx, u) })
}

func (m *MemDB) FindToken(ctx context.Context, accessToken string) (*oauth.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{db: m}).FindToken(ctx, accessToken)
}

func (m *MemDB) InsertToken(ctx context.Context, t *oauth.Token) error {
	return m.InTx(ctx, func(q oauth.Querier) error { return q.InsertToken(ctx, t) })
}

// DeleteUser removes a user. Tokens referencing it are left behind.
func (m *MemDB) DeleteUser(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		delete(m.users, username)
		delete(m.usersByID, u.ID)
		delete(m.npms, u.NPM)
	}
}

// Counts returns the number of stored clients, users and tokens.
func (m *MemDB) Counts() (clients, users, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients), len(m.users), len(m.tokens)
}

// lifecycle helpers
func (m *MemDB) Close() error { return nil }

func (m *MemDB) Ping(ctx context.Context) error { return nil }

// memTx operates on the maps of a locked MemDB and records how to undo each
// write.
type memTx struct {
	db   *MemDB
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) nextID() int64 {
	id := tx.db.seq
	tx.db.seq++
	return id
}

func (tx *memTx) FindClient(_ context.Context, clientID string) (*oauth.Client, error) {
	if c, ok := tx.db.clients[clientID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (tx *memTx) InsertClient(_ context.Context, c *oauth.Client) error {
	if _, ok := tx.db.clients[c.ClientID]; ok {
		return fmt.Errorf("%w: clients.client_id", oauth.ErrKeyConflict)
	}
	c.ID = tx.nextID()
	c.CreatedAt = time.Now().UTC()
	cp := *c
	tx.db.clients[c.ClientID] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.db.clients, cp.ClientID) })
	return nil
}

func (tx *memTx) FindUser(_ context.Context, username string) (*oauth.User, error) {
	if u, ok := tx.db.users[username]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (tx *memTx) FindUserByID(_ context.Context, id int64) (*oauth.User, error) {
	if u, ok := tx.db.usersByID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (tx *memTx) InsertUser(_ context.Context, u *oauth.User) error {
	if _, ok := tx.db.users[u.Username]; ok {
		return fmt.Errorf("%w: users.username", oauth.ErrKeyConflict)
	}
	if _, ok := tx.db.npms[u.NPM]; ok {
		return fmt.Errorf("%w: users.npm", oauth.ErrNPMConflict)
	}
	if _, ok := tx.db.clients[u.ClientID]; !ok {
		return fmt.Errorf("insert user: client %q does not exist", u.ClientID)
	}
	u.ID = tx.nextID()
	u.CreatedAt = time.Now().UTC()
	cp := *u
	tx.db.users[cp.Username] = &cp
	tx.db.usersByID[cp.ID] = &cp
	tx.db.npms[cp.NPM] = cp.ID
	tx.undo = append(tx.undo, func() {
		delete(tx.db.users, cp.Username)
		delete(tx.db.usersByID, cp.ID)
		delete(tx.db.npms, cp.NPM)
	})
	return nil
}

func (tx *memTx) FindToken(_ context.Context, accessToken string) (*oauth.Token, error) {
	if t, ok := tx.db.tokens[accessToken]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (tx *memTx) InsertToken(_ context.Context, t *oauth.Token) error {
	if _, ok := tx.db.tokens[t.AccessToken]; ok {
		return fmt.Errorf("%w: tokens.access_token", oauth.ErrKeyConflict)
	}
	if _, ok := tx.db.refreshes[t.RefreshToken]; ok {
		return fmt.Errorf("%w: tokens.refresh_token", oauth.ErrKeyConflict)
	}
	t.ID = tx.nextID()
	t.CreatedAt = time.Now().UTC()
	cp := *t
	tx.db.tokens[cp.AccessToken] = &cp
	tx.db.refreshes[cp.RefreshToken] = cp.ID
	tx.undo = append(tx.undo, func() {
		delete(tx.db.tokens, cp.AccessToken)
		delete(tx.db.refreshes, cp.RefreshToken)
	})
	return nil
}
