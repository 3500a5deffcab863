package oauth

import (
	"context"
)

// fakeStore records every call it receives.
type fakeStore struct {
	calls   []string
	clients map[string]*Client
	users   map[string]*User
	tokens  map[string]*Token

	insertUserErr error
	nextID        int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients: map[string]*Client{},
		users:   map[string]*User{},
		tokens:  map[string]*Token{},
	}
}

func (f *fakeStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	f.calls = append(f.calls, "InTx")
	return fn(f)
}

func (f *fakeStore) FindClient(_ context.Context, clientID string) (*Client, error) {
	f.calls = append(f.calls, "FindClient")
	return f.clients[clientID], nil
}

func (f *fakeStore) InsertClient(_ context.Context, c *Client) error {
	f.calls = append(f.calls, "InsertClient")
	f.nextID++
	c.ID = f.nextID
	f.clients[c.ClientID] = c
	return nil
}

func (f *fakeStore) FindUser(_ context.Context, username string) (*User, error) {
	f.calls = append(f.calls, "FindUser")
	return f.users[username], nil
}

func (f *fakeStore) FindUserByID(_ context.Context, id int64) (*User, error) {
	f.calls = append(f.calls, "FindUserByID")
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertUser(_ context.Context, u *User) error {
	f.calls = append(f.calls, "InsertUser")
	if f.insertUserErr != nil {
		return f.insertUserErr
	}
	f.nextID++
	u.ID = f.nextID
	f.users[u.Username] = u
	return nil
}

func (f *fakeStore) FindToken(_ context.Context, accessToken string) (*Token, error) {
	f.calls = append(f.calls, "FindToken")
	return f.tokens[accessToken], nil
}

func (f *fakeStore) InsertToken(_ context.Context, t *Token) error {
	f.calls = append(f.calls, "InsertToken")
	f.nextID++
	t.ID = f.nextID
	f.tokens[t.AccessToken] = t
	return nil
}
