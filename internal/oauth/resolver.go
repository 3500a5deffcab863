package oauth

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/example/oauthapp/internal/clock"
)

// Resolver maps a bearer token to the resource of its owner.
type Resolver struct {
	store Store
	clock clock.Clock
	log   logrus.FieldLogger
}

// Resolve checks, in order, that the token exists, that it has not expired
// and that its owner still exists.
func (r *Resolver) Resolve(ctx context.Context, accessToken string) (*UserResource, error) {
	log := r.log.WithField("access_token", tokenHint(accessToken))

	res, err := r.resolve(ctx, accessToken)
	if err != nil {
		logFailure(log, err, "resource request rejected")
		return nil, err
	}
	log.WithField("username", res.UserID).Info("resource resolved")
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, accessToken string) (*UserResource, error) {
	token, err := r.store.FindToken(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	if token == nil {
		return nil, ErrInvalidToken
	}
	if !token.Valid(r.clock.Now()) {
		return nil, ErrTokenExpired
	}

	user, err := r.store.FindUserByID(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("find token owner: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return &UserResource{
		UserID:       user.Username,
		FullName:     user.FullName,
		NPM:          user.NPM,
		AccessToken:  accessToken,
		RefreshToken: token.RefreshToken,
		Expires:      user.Expires,
		ClientID:     user.ClientID,
	}, nil
}
