package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Clients registers and authenticates clients.
type Clients struct {
	store  Store
	hasher Hasher
	log    logrus.FieldLogger
}

// Register creates a client. A client_id that already exists is rejected
// with ErrDuplicateClient and never overwritten.
func (c *Clients) Register(ctx context.Context, clientID, secret string, scope *string) (*Client, error) {
	log := c.log.WithField("client_id", clientID)

	var created *Client
	err := c.store.InTx(ctx, func(q Querier) error {
		existing, err := q.FindClient(ctx, clientID)
		if err != nil {
			return fmt.Errorf("find client: %w", err)
		}
		if existing != nil {
			return ErrDuplicateClient
		}
		digest, err := c.hasher.Digest(secret)
		if err != nil {
			return fmt.Errorf("digest client secret: %w", err)
		}
		client := &Client{ClientID: clientID, SecretDigest: digest, Scope: scope}
		if err := q.InsertClient(ctx, client); err != nil {
			if errors.Is(err, ErrKeyConflict) {
				return ErrDuplicateClient
			}
			return fmt.Errorf("insert client: %w", err)
		}
		created = client
		return nil
	})
	if err != nil {
		logFailure(log, err, "client registration rejected")
		return nil, err
	}
	log.Info("client registered")
	return created, nil
}

// FindByID returns the client or nil when it does not exist.
func (c *Clients) FindByID(ctx context.Context, clientID string) (*Client, error) {
	client, err := c.store.FindClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	return client, nil
}

// Authenticate checks a claimed client secret.
func (c *Clients) Authenticate(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := c.authenticate(ctx, c.store, clientID, secret)
	if err != nil {
		logFailure(c.log.WithField("client_id", clientID), err, "client authentication failed")
		return nil, err
	}
	return client, nil
}

func (c *Clients) authenticate(ctx context.Context, q Querier, clientID, secret string) (*Client, error) {
	client, err := q.FindClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	if client == nil {
		return nil, ErrUnknownClient
	}
	if !c.hasher.Verify(secret, client.SecretDigest) {
		return nil, ErrInvalidClientSecret
	}
	return client, nil
}
