package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Users registers users under an authenticated client.
type Users struct {
	store   Store
	clients *Clients
	hasher  Hasher
	log     logrus.FieldLogger
}

// Register creates a user. Checks run in order and stop at the first
// failure: client existence, client secret, username availability, then the
// npm constraint enforced by the store at write time.
func (u *Users) Register(ctx context.Context, reg UserRegistration) (*User, error) {
	log := u.log.WithFields(logrus.Fields{
		"client_id": reg.ClientID,
		"username":  reg.Username,
		"npm":       reg.NPM,
	})

	var created *User
	err := u.store.InTx(ctx, func(q Querier) error {
		if _, err := u.clients.authenticate(ctx, q, reg.ClientID, reg.ClientSecret); err != nil {
			return err
		}
		existing, err := q.FindUser(ctx, reg.Username)
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}
		if existing != nil {
			return ErrDuplicateUser
		}
		digest, err := u.hasher.Digest(reg.Password)
		if err != nil {
			return fmt.Errorf("digest password: %w", err)
		}
		user := &User{
			Username:       reg.Username,
			PasswordDigest: digest,
			FullName:       reg.FullName,
			NPM:            reg.NPM,
			ClientID:       reg.ClientID,
			Expires:        reg.Expires,
		}
		if err := q.InsertUser(ctx, user); err != nil {
			switch {
			case errors.Is(err, ErrNPMConflict):
				return ErrDuplicateNPM
			case errors.Is(err, ErrKeyConflict):
				return ErrDuplicateUser
			}
			return fmt.Errorf("insert user: %w", err)
		}
		created = user
		return nil
	})
	if err != nil {
		logFailure(log, err, "user registration rejected")
		return nil, err
	}
	log.Info("user registered")
	return created, nil
}

// FindByUsername returns the user or nil when it does not exist.
func (u *Users) FindByUsername(ctx context.Context, username string) (*User, error) {
	user, err := u.store.FindUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (u *Users) checkPassword(user *User, password string) bool {
	return u.hasher.Verify(password, user.PasswordDigest)
}
