package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/oauthapp/internal/clock"
)

// Issuer implements the password grant.
type Issuer struct {
	store    Store
	clients  *Clients
	users    *Users
	clock    clock.Clock
	genToken TokenGenerator
	log      logrus.FieldLogger
}

// Issue validates req and mints a fresh token pair. The grant type is checked
// before the store is touched, and the client is authenticated before any
// user lookup.
func (i *Issuer) Issue(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	log := i.log.WithFields(logrus.Fields{
		"grant_type": req.GrantType,
		"client_id":  req.ClientID,
		"username":   req.Username,
	})

	resp, err := i.issue(ctx, req)
	if err != nil {
		logFailure(log, err, "token grant rejected")
		return nil, err
	}
	log.WithField("access_token", tokenHint(resp.AccessToken)).Info("token issued")
	return resp, nil
}

func (i *Issuer) issue(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType != GrantTypePassword {
		return nil, ErrUnsupportedGrantType
	}

	client, err := i.clients.authenticate(ctx, i.store, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	user, err := i.store.FindUser(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrUnknownUser
	}
	if !i.users.checkPassword(user, req.Password) {
		return nil, ErrInvalidPassword
	}

	var token *Token
	err = i.store.InTx(ctx, func(q Querier) error {
		access, err := i.genToken(TokenLength)
		if err != nil {
			return fmt.Errorf("generate access token: %w", err)
		}
		refresh, err := i.genToken(TokenLength)
		if err != nil {
			return fmt.Errorf("generate refresh token: %w", err)
		}
		t := &Token{
			AccessToken:  access,
			RefreshToken: refresh,
			Expiration:   i.clock.Now().Add(TokenLifetime),
			UserID:       user.ID,
		}
		if err := q.InsertToken(ctx, t); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    TokenType,
		ExpiresIn:    int(TokenLifetime / time.Second),
		RefreshToken: token.RefreshToken,
		Scope:        client.Scope,
	}, nil
}
