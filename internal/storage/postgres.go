package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/oauthapp/internal/oauth"
)

// constraintNPM is the name the migrations give the users.npm unique
// constraint. Every other unique violation is a primary key clash.
const constraintNPM = "users_npm_key"

// PostgresDB stores entities in PostgreSQL. The schema is owned by the
// migrations package.
type PostgresDB struct {
	postgresQueries
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	p := &PostgresDB{postgresQueries: postgresQueries{db: d}, db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	if err := p.db.Ping(); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (p *PostgresDB) InTx(ctx context.Context, fn func(q oauth.Querier) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(postgresQueries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classifyPostgresError(err))
	}
	return nil
}

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type postgresQueries struct {
	db dbtx
}

func (q postgresQueries) FindClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	row := q.db.QueryRowContext(ctx, `SELECT id,client_id,client_secret,scope,created_at FROM clients WHERE client_id = $1`, clientID)
	var c oauth.Client
	var scope sql.NullString
	if err := row.Scan(&c.ID, &c.ClientID, &c.SecretDigest, &scope, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Scope = fromNullString(scope)
	return &c, nil
}

func (q postgresQueries) InsertClient(ctx context.Context, c *oauth.Client) error {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO clients(client_id,client_secret,scope,created_at) VALUES($1,$2,$3,now()) RETURNING id,created_at`,
		c.ClientID, c.SecretDigest, toNullString(c.Scope)).Scan(&c.ID, &c.CreatedAt)
	return classifyPostgresError(err)
}

const postgresUserColumns = `id,username,password,full_name,npm,client_id,expires,created_at`

func (q postgresQueries) scanUser(row *sql.Row) (*oauth.User, error) {
	var u oauth.User
	var expires sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordDigest, &u.FullName, &u.NPM, &u.ClientID, &expires, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Expires = fromNullString(expires)
	return &u, nil
}

func (q postgresQueries) FindUser(ctx context.Context, username string) (*oauth.User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx, `SELECT `+postgresUserColumns+` FROM users WHERE username = $1`, username))
}

func (q postgresQueries) FindUserByID(ctx context.Context, id int64) (*oauth.User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx, `SELECT `+postgresUserColumns+` FROM users WHERE id = $1`, id))
}

func (q postgresQueries) InsertUser(ctx context.Context, u *oauth.User) error {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO users(username,password,full_name,npm,client_id,expires,created_at) VALUES($1,$2,$3,$4,$5,$6,now()) RETURNING id,created_at`,
		u.Username, u.PasswordDigest, u.FullName, u.NPM, u.ClientID, toNullString(u.Expires)).Scan(&u.ID, &u.CreatedAt)
	return classifyPostgresError(err)
}

func (q postgresQueries) FindToken(ctx context.Context, accessToken string) (*oauth.Token, error) {
	row := q.db.QueryRowContext(ctx, `SELECT id,access_token,refresh_token,token_expiration,user_id,created_at FROM tokens WHERE access_token = $1`, accessToken)
	var t oauth.Token
	if err := row.Scan(&t.ID, &t.AccessToken, &t.RefreshToken, &t.Expiration, &t.UserID, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Expiration = t.Expiration.UTC()
	return &t, nil
}

func (q postgresQueries) InsertToken(ctx context.Context, t *oauth.Token) error {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO tokens(access_token,refresh_token,token_expiration,user_id,created_at) VALUES($1,$2,$3,$4,now()) RETURNING id,created_at`,
		t.AccessToken, t.RefreshToken, t.Expiration, t.UserID).Scan(&t.ID, &t.CreatedAt)
	return classifyPostgresError(err)
}

// classifyPostgresError maps unique_violation (23505) onto the store
// sentinels using the constraint name.
func classifyPostgresError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code.Name() != "unique_violation" {
		return err
	}
	if pqErr.Constraint == constraintNPM {
		return fmt.Errorf("%w: %s", oauth.ErrNPMConflict, pqErr.Constraint)
	}
	return fmt.Errorf("%w: %s", oauth.ErrKeyConflict, pqErr.Constraint)
}
