package oauth_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/oauthapp/internal/clock"
	"github.com/example/oauthapp/internal/oauth"
	"github.com/example/oauthapp/internal/random"
	"github.com/example/oauthapp/internal/storage"
)

var start = time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)

func strPtr(s string) *string { return &s }

func newService(t *testing.T) (*oauth.Service, *storage.MemDB, *clock.Manual) {
	t.Helper()
	db := storage.NewMemoryDB()
	clk := clock.NewManual(start)
	return oauth.New(db, oauth.WithClock(clk)), db, clk
}

type closingStore interface {
	oauth.Store
	Close() error
}

// forEachBackend runs fn against a service over every embeddable store.
func forEachBackend(t *testing.T, fn func(t *testing.T, svc *oauth.Service, clk *clock.Manual)) {
	backends := map[string]func(t *testing.T) closingStore{
		"memory": func(t *testing.T) closingStore { return storage.NewMemoryDB() },
		"sqlite": func(t *testing.T) closingStore {
			s, err := storage.NewSQLiteDB(filepath.Join(t.TempDir(), "oauth.db"))
			require.NoError(t, err)
			return s
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })
			clk := clock.NewManual(start)
			fn(t, oauth.New(store, oauth.WithClock(clk)), clk)
		})
	}
}

func registerAcme(t *testing.T, svc *oauth.Service) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Clients.Register(ctx, "acme", "s3cr3t", strPtr("read"))
	require.NoError(t, err)
	_, err = svc.Users.Register(ctx, oauth.UserRegistration{
		Username: "alice", Password: "pw1", FullName: "Alice A", NPM: "NPM001",
		ClientID: "acme", ClientSecret: "s3cr3t",
	})
	require.NoError(t, err)
}

func issueAlice(t *testing.T, svc *oauth.Service) *oauth.TokenResponse {
	t.Helper()
	resp, err := svc.Issuer.Issue(context.Background(), oauth.TokenRequest{
		GrantType: "password", ClientID: "acme", ClientSecret: "s3cr3t", Username: "alice", Password: "pw1",
	})
	require.NoError(t, err)
	return resp
}

func TestEndToEnd(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *oauth.Service, _ *clock.Manual) {
		testEndToEnd(t, svc)
	})
}

func testEndToEnd(t *testing.T, svc *oauth.Service) {
	registerAcme(t, svc)

	resp := issueAlice(t, svc)
	assert.Len(t, resp.AccessToken, 40)
	assert.Len(t, resp.RefreshToken, 40)
	for _, r := range resp.AccessToken {
		assert.Contains(t, random.Alphabet, string(r))
	}
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 300, resp.ExpiresIn)
	require.NotNil(t, resp.Scope)
	assert.Equal(t, "read", *resp.Scope)

	res, err := svc.Resolver.Resolve(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &oauth.UserResource{
		UserID:       "alice",
		FullName:     "Alice A",
		NPM:          "NPM001",
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Expires:      nil,
		ClientID:     "acme",
	}, res)
}

func TestEveryGrantMintsNewPair(t *testing.T) {
	svc, db, _ := newService(t)
	registerAcme(t, svc)

	a := issueAlice(t, svc)
	b := issueAlice(t, svc)
	assert.NotEqual(t, a.AccessToken, b.AccessToken)
	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)

	_, _, tokens := db.Counts()
	assert.Equal(t, 2, tokens)
}

func TestDuplicateClient(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Clients.Register(ctx, "acme", "s3cr3t", nil)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cr3t", first.SecretDigest)

	_, err = svc.Clients.Register(ctx, "acme", "other", strPtr("write"))
	assert.ErrorIs(t, err, oauth.ErrDuplicateClient)

	clients, _, _ := db.Counts()
	assert.Equal(t, 1, clients)

	// the original secret still authenticates
	_, err = svc.Clients.Authenticate(ctx, "acme", "s3cr3t")
	assert.NoError(t, err)
	_, err = svc.Clients.Authenticate(ctx, "acme", "other")
	assert.ErrorIs(t, err, oauth.ErrInvalidClientSecret)
}

func TestClientLookup(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	got, err := svc.Clients.FindByID(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = svc.Clients.Authenticate(ctx, "acme", "s3cr3t")
	assert.ErrorIs(t, err, oauth.ErrUnknownClient)

	_, err = svc.Clients.Register(ctx, "acme", "s3cr3t", nil)
	require.NoError(t, err)
	got, err = svc.Clients.FindByID(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Scope)
}

func TestRegisterUserRejections(t *testing.T) {
	tests := []struct {
		name string
		reg  oauth.UserRegistration
		want error
	}{
		{
			name: "unknown client",
			reg:  oauth.UserRegistration{Username: "bob", Password: "pw", FullName: "Bob", NPM: "N2", ClientID: "ghost", ClientSecret: "s3cr3t"},
			want: oauth.ErrUnknownClient,
		},
		{
			name: "wrong client secret",
			reg:  oauth.UserRegistration{Username: "bob", Password: "pw", FullName: "Bob", NPM: "N2", ClientID: "acme", ClientSecret: "nope"},
			want: oauth.ErrInvalidClientSecret,
		},
		{
			name: "duplicate username",
			reg:  oauth.UserRegistration{Username: "alice", Password: "pw", FullName: "Bob", NPM: "N2", ClientID: "acme", ClientSecret: "s3cr3t"},
			want: oauth.ErrDuplicateUser,
		},
		{
			name: "duplicate npm",
			reg:  oauth.UserRegistration{Username: "bob", Password: "pw", FullName: "Bob", NPM: "NPM001", ClientID: "acme", ClientSecret: "s3cr3t"},
			want: oauth.ErrDuplicateNPM,
		},
		{
			name: "duplicate username wins over duplicate npm",
			reg:  oauth.UserRegistration{Username: "alice", Password: "pw", FullName: "Bob", NPM: "NPM001", ClientID: "acme", ClientSecret: "s3cr3t"},
			want: oauth.ErrDuplicateUser,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, _ := newService(t)
			registerAcme(t, svc)

			_, err := svc.Users.Register(context.Background(), tt.reg)
			assert.ErrorIs(t, err, tt.want)

			_, users, _ := db.Counts()
			assert.Equal(t, 1, users, "no user row may be created")
			got, err := svc.Users.FindByUsername(context.Background(), "bob")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestRegisterUserStoresDigest(t *testing.T) {
	svc, _, _ := newService(t)
	registerAcme(t, svc)

	u, err := svc.Users.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.NotEqual(t, "pw1", u.PasswordDigest)
	assert.Equal(t, "acme", u.ClientID)
}

func TestConcurrentDuplicateNPM(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *oauth.Service, _ *clock.Manual) {
		testConcurrentDuplicateNPM(t, svc)
	})
}

func testConcurrentDuplicateNPM(t *testing.T, svc *oauth.Service) {
	ctx := context.Background()
	_, err := svc.Clients.Register(ctx, "acme", "s3cr3t", nil)
	require.NoError(t, err)
	_, err = svc.Clients.Register(ctx, "beta", "b3ta", nil)
	require.NoError(t, err)

	regs := []oauth.UserRegistration{
		{Username: "alice", Password: "pw", FullName: "Alice", NPM: "NPM001", ClientID: "acme", ClientSecret: "s3cr3t"},
		{Username: "bob", Password: "pw", FullName: "Bob", NPM: "NPM001", ClientID: "beta", ClientSecret: "b3ta"},
	}
	errs := make([]error, len(regs))
	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg oauth.UserRegistration) {
			defer wg.Done()
			_, errs[i] = svc.Users.Register(ctx, reg)
		}(i, reg)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, oauth.ErrDuplicateNPM)
	}
	assert.Equal(t, 1, succeeded)
}

func TestIssueFailures(t *testing.T) {
	tests := []struct {
		name string
		req  oauth.TokenRequest
		want error
	}{
		{"unsupported grant", oauth.TokenRequest{GrantType: "client_credentials", ClientID: "acme", ClientSecret: "s3cr3t", Username: "alice", Password: "pw1"}, oauth.ErrUnsupportedGrantType},
		{"unknown client", oauth.TokenRequest{GrantType: "password", ClientID: "ghost", ClientSecret: "s3cr3t", Username: "alice", Password: "pw1"}, oauth.ErrUnknownClient},
		{"bad client secret", oauth.TokenRequest{GrantType: "password", ClientID: "acme", ClientSecret: "x", Username: "alice", Password: "pw1"}, oauth.ErrInvalidClientSecret},
		{"unknown user", oauth.TokenRequest{GrantType: "password", ClientID: "acme", ClientSecret: "s3cr3t", Username: "mallory", Password: "pw1"}, oauth.ErrUnknownUser},
		{"bad password", oauth.TokenRequest{GrantType: "password", ClientID: "acme", ClientSecret: "s3cr3t", Username: "alice", Password: "pw2"}, oauth.ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, _ := newService(t)
			registerAcme(t, svc)

			resp, err := svc.Issuer.Issue(context.Background(), tt.req)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.want)
			_, _, tokens := db.Counts()
			assert.Zero(t, tokens)
		})
	}
}

func TestTokenExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    error
	}{
		{"fresh", 0, nil},
		{"4m59s", 4*time.Minute + 59*time.Second, nil},
		{"1ns before expiry", oauth.TokenLifetime - time.Nanosecond, nil},
		{"exactly at expiry", oauth.TokenLifetime, oauth.ErrTokenExpired},
		{"5m01s", 5*time.Minute + time.Second, oauth.ErrTokenExpired},
		{"a day later", 24 * time.Hour, oauth.ErrTokenExpired},
	}
	forEachBackend(t, func(t *testing.T, svc *oauth.Service, clk *clock.Manual) {
		registerAcme(t, svc)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clk.Set(start)
				resp := issueAlice(t, svc)

				clk.Advance(tt.elapsed)
				res, err := svc.Resolver.Resolve(context.Background(), resp.AccessToken)
				if tt.want == nil {
					require.NoError(t, err)
					assert.Equal(t, "alice", res.UserID)
					return
				}
				assert.ErrorIs(t, err, tt.want)
				assert.Nil(t, res)
			})
		}
	})
}

func TestResolveInvalidToken(t *testing.T) {
	svc, _, _ := newService(t)
	registerAcme(t, svc)
	resp := issueAlice(t, svc)

	neverIssued, err := random.String(oauth.TokenLength)
	require.NoError(t, err)
	_, err = svc.Resolver.Resolve(context.Background(), neverIssued)
	assert.ErrorIs(t, err, oauth.ErrInvalidToken)

	// refresh tokens are not access tokens
	_, err = svc.Resolver.Resolve(context.Background(), resp.RefreshToken)
	assert.ErrorIs(t, err, oauth.ErrInvalidToken)
}

func TestResolveMissingOwner(t *testing.T) {
	svc, db, _ := newService(t)
	registerAcme(t, svc)
	resp := issueAlice(t, svc)

	db.DeleteUser("alice")
	_, err := svc.Resolver.Resolve(context.Background(), resp.AccessToken)
	assert.ErrorIs(t, err, oauth.ErrUserNotFound)
}

func TestResolveCarriesUserExpires(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *oauth.Service, _ *clock.Manual) {
		testResolveCarriesUserExpires(t, svc)
	})
}

func testResolveCarriesUserExpires(t *testing.T, svc *oauth.Service) {
	ctx := context.Background()
	_, err := svc.Clients.Register(ctx, "acme", "s3cr3t", nil)
	require.NoError(t, err)
	_, err = svc.Users.Register(ctx, oauth.UserRegistration{
		Username: "dave", Password: "pw", FullName: "Dave", NPM: "N4",
		ClientID: "acme", ClientSecret: "s3cr3t", Expires: strPtr("2031-12-31"),
	})
	require.NoError(t, err)

	resp, err := svc.Issuer.Issue(ctx, oauth.TokenRequest{GrantType: "password", ClientID: "acme", ClientSecret: "s3cr3t", Username: "dave", Password: "pw"})
	require.NoError(t, err)
	assert.Nil(t, resp.Scope)

	res, err := svc.Resolver.Resolve(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, res.Expires)
	assert.Equal(t, "2031-12-31", *res.Expires)
}

func TestBcryptHasherEndToEnd(t *testing.T) {
	db := storage.NewMemoryDB()
	svc := oauth.New(db, oauth.WithHasher(oauth.BcryptHasher{Cost: 4}))
	registerAcme(t, svc)
	resp := issueAlice(t, svc)
	_, err := svc.Resolver.Resolve(context.Background(), resp.AccessToken)
	assert.NoError(t, err)
}

func ExampleService() {
	svc := oauth.New(storage.NewMemoryDB())
	ctx := context.Background()

	_, _ = svc.Clients.Register(ctx, "acme", "s3cr3t", nil)
	_, _ = svc.Users.Register(ctx, oauth.UserRegistration{
		Username: "alice", Password: "pw1", FullName: "Alice A", NPM: "NPM001",
		ClientID: "acme", ClientSecret: "s3cr3t",
	})
	resp, _ := svc.Issuer.Issue(ctx, oauth.TokenRequest{
		GrantType: "password", ClientID: "acme", ClientSecret: "s3cr3t", Username: "alice", Password: "pw1",
	})
	res, _ := svc.Resolver.Resolve(ctx, resp.AccessToken)
	fmt.Println(resp.TokenType, resp.ExpiresIn, res.UserID, res.NPM)
	// Output: Bearer 300 alice NPM001
}
