package oauth

import (
	"context"
	"errors"
)

// Store sentinels. Implementations must return these (possibly wrapped) when
// the backend itself rejects a write on a uniqueness constraint.
var (
	// ErrKeyConflict reports a clash on a primary identifier: client_id,
	// username, access_token or refresh_token.
	ErrKeyConflict = errors.New("store: key conflict")
	// ErrNPMConflict reports a clash on the users.npm secondary key.
	ErrNPMConflict = errors.New("store: npm conflict")
)

// Querier is the lookup/insert surface of the entity store. Finders return
// nil, nil when the entity is absent. Inserts assign the entity ID.
type Querier interface {
	FindClient(ctx context.Context, clientID string) (*Client, error)
	InsertClient(ctx context.Context, c *Client) error

	FindUser(ctx context.Context, username string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
	InsertUser(ctx context.Context, u *User) error

	FindToken(ctx context.Context, accessToken string) (*Token, error)
	InsertToken(ctx context.Context, t *Token) error
}

// Store is a Querier that can scope work in a transaction. fn's writes are
// committed only when fn returns nil; otherwise none of them become visible.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}
