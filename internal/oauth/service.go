package oauth

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/example/oauthapp/internal/clock"
	"github.com/example/oauthapp/internal/random"
)

// Service bundles the engine components over one store.
type Service struct {
	Clients  *Clients
	Users    *Users
	Issuer   *Issuer
	Resolver *Resolver
}

// TokenGenerator returns a random token of length n.
type TokenGenerator func(n int) (string, error)

type options struct {
	hasher   Hasher
	clock    clock.Clock
	log      logrus.FieldLogger
	genToken TokenGenerator
}

// Option customises New.
type Option func(*options)

// WithHasher sets the secret hasher. Defaults to SHA256Hasher.
func WithHasher(h Hasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithClock sets the time source used for issuance and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger every component reports to. Defaults to a
// logger that discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithTokenGenerator replaces the random token source.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(o *options) { o.genToken = g }
}

// New wires the engine components over store.
func New(store Store, opts ...Option) *Service {
	o := options{
		hasher:   SHA256Hasher{},
		clock:    clock.Real{},
		genToken: random.String,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = discardLogger()
	}

	clients := &Clients{store: store, hasher: o.hasher, log: o.log.WithField("component", "clients")}
	users := &Users{store: store, clients: clients, hasher: o.hasher, log: o.log.WithField("component", "users")}
	return &Service{
		Clients: clients,
		Users:   users,
		Issuer: &Issuer{
			store:    store,
			clients:  clients,
			users:    users,
			clock:    o.clock,
			genToken: o.genToken,
			log:      o.log.WithField("component", "issuer"),
		},
		Resolver: &Resolver{
			store: store,
			clock: o.clock,
			log:   o.log.WithField("component", "resolver"),
		},
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// logFailure reports err without altering it. Domain rejections are warnings,
// anything else is an error.
func logFailure(log logrus.FieldLogger, err error, msg string) {
	if e, ok := AsError(err); ok {
		log.WithFields(logrus.Fields{
			"error_kind": e.Kind.String(),
			"status":     e.Status,
		}).Warn(msg)
		return
	}
	log.WithError(err).Error(msg)
}

// tokenHint returns a loggable prefix of a bearer token.
func tokenHint(token string) string {
	if len(token) > 6 {
		return token[:6] + "..."
	}
	return token
}
