package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/oauthapp/internal/oauth"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL UNIQUE,
		client_secret TEXT NOT NULL,
		scope TEXT,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		full_name TEXT NOT NULL,
		npm TEXT NOT NULL UNIQUE,
		client_id TEXT NOT NULL REFERENCES clients(client_id),
		expires TEXT,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		access_token TEXT NOT NULL UNIQUE,
		refresh_token TEXT NOT NULL UNIQUE,
		token_expiration INTEGER NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		created_at INTEGER NOT NULL
	);`,
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteDB stores entities in a SQLite file through modernc.org/sqlite.
type SQLiteDB struct {
	sqliteQueries
	db   *sql.DB
	path string
}

// sqlitePragmas are applied by the driver to every connection it opens, so
// they survive the pool replacing a connection.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// NewSQLiteDB opens path and creates the schema if needed. A single
// connection is used so write transactions are serialised by the pool rather
// than failing with SQLITE_BUSY.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	d, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	d.SetMaxOpenConns(1)

	s := &SQLiteDB{sqliteQueries: sqliteQueries{db: d}, db: d, path: path}
	if err := s.Init(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqlitePragmas
}

// Init applies the schema.
func (s *SQLiteDB) Init() error {
	for _, q := range sqliteSchema {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDB) InTx(ctx context.Context, fn func(q oauth.Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(sqliteQueries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classifySQLiteError(err))
	}
	return nil
}

// lifecycle helpers
func (s *SQLiteDB) Close() error { return s.db.Close() }

func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type sqliteQueries struct {
	db dbtx
}

func (q sqliteQueries) FindClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	row := q.db.QueryRowContext(ctx, `SELECT id,client_id,client_secret,scope,created_at FROM clients WHERE client_id = ?`, clientID)
	var c oauth.Client
	var scope sql.NullString
	var created int64
	if err := row.Scan(&c.ID, &c.ClientID, &c.SecretDigest, &scope, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Scope = fromNullString(scope)
	c.CreatedAt = fromUnixNano(created)
	return &c, nil
}

func (q sqliteQueries) InsertClient(ctx context.Context, c *oauth.Client) error {
	now := time.Now().UTC()
	row := q.db.QueryRowContext(ctx,
		`INSERT INTO clients(client_id,client_secret,scope,created_at) VALUES(?,?,?,?) RETURNING id`,
		c.ClientID, c.SecretDigest, toNullString(c.Scope), toUnixNano(now))
	if err := row.Scan(&c.ID); err != nil {
		return classifySQLiteError(err)
	}
	c.CreatedAt = fromUnixNano(toUnixNano(now))
	return nil
}

const sqliteUserColumns = `id,username,password,full_name,npm,client_id,expires,created_at`

func (q sqliteQueries) scanUser(row *sql.Row) (*oauth.User, error) {
	var u oauth.User
	var expires sql.NullString
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordDigest, &u.FullName, &u.NPM, &u.ClientID, &expires, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Expires = fromNullString(expires)
	u.CreatedAt = fromUnixNano(created)
	return &u, nil
}

func (q sqliteQueries) FindUser(ctx context.Context, username string) (*oauth.User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE username = ?`, username))
}

func (q sqliteQueries) FindUserByID(ctx context.Context, id int64) (*oauth.User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id))
}

func (q sqliteQueries) InsertUser(ctx context.Context, u *oauth.User) error {
	now := time.Now().UTC()
	row := q.db.QueryRowContext(ctx,
		`INSERT INTO users(username,password,full_name,npm,client_id,expires,created_at) VALUES(?,?,?,?,?,?,?) RETURNING id`,
		u.Username, u.PasswordDigest, u.FullName, u.NPM, u.ClientID, toNullString(u.Expires), toUnixNano(now))
	if err := row.Scan(&u.ID); err != nil {
		return classifySQLiteError(err)
	}
	u.CreatedAt = fromUnixNano(toUnixNano(now))
	return nil
}

func (q sqliteQueries) FindToken(ctx context.Context, accessToken string) (*oauth.Token, error) {
	row := q.db.QueryRowContext(ctx, `SELECT id,access_token,refresh_token,token_expiration,user_id,created_at FROM tokens WHERE access_token = ?`, accessToken)
	var t oauth.Token
	var expiration, created int64
	if err := row.Scan(&t.ID, &t.AccessToken, &t.RefreshToken, &expiration, &t.UserID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Expiration = fromUnixNano(expiration)
	t.CreatedAt = fromUnixNano(created)
	return &t, nil
}

func (q sqliteQueries) InsertToken(ctx context.Context, t *oauth.Token) error {
	now := time.Now().UTC()
	row := q.db.QueryRowContext(ctx,
		`INSERT INTO tokens(access_token,refresh_token,token_expiration,user_id,created_at) VALUES(?,?,?,?,?) RETURNING id`,
		t.AccessToken, t.RefreshToken, toUnixNano(t.Expiration), t.UserID, toUnixNano(now))
	if err := row.Scan(&t.ID); err != nil {
		return classifySQLiteError(err)
	}
	t.CreatedAt = fromUnixNano(toUnixNano(now))
	return nil
}

// classifySQLiteError maps unique constraint failures onto the store
// sentinels. modernc reports them as "UNIQUE constraint failed: table.column".
func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	if strings.Contains(msg, "users.npm") {
		return fmt.Errorf("%w: %v", oauth.ErrNPMConflict, err)
	}
	return fmt.Errorf("%w: %v", oauth.ErrKeyConflict, err)
}

// toUnixNano stores timestamps at full precision so an expiry read back is
// the instant that was written.
func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
