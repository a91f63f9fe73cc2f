// Package settings is the host-side credential and token store. The core
// never owns persistent storage; the CLI and the HTTP facade hand a Store to
// the session manager as its CredentialSource and TokenCache.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS tokens (locale TEXT PRIMARY KEY, token TEXT NOT NULL, updated_at INTEGER NOT NULL);
`

const (
	keyUsername = "username"
	keyPassword = "password"
	keyOperator = "operator"
)

// Store keeps credentials and one session token per locale in a sqlite file.
type Store struct {
	db       *sql.DB
	fallback session.Credentials
	prompt   func()
	logger   zerolog.Logger
}

// Open opens (creating if needed) the sqlite database at path. fallback is
// returned by StoredCredentials for any field the database does not hold.
func Open(path string, fallback session.Credentials) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings schema: %w", err)
	}
	return &Store{db: db, fallback: fallback, logger: xlog.WithComponent("settings")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnPrompt sets the callback run when the session needs fresh credentials.
func (s *Store) OnPrompt(fn func()) {
	s.prompt = fn
}

// SetCredentials replaces the stored credentials. Empty fields are deleted.
func (s *Store) SetCredentials(ctx context.Context, c session.Credentials) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for key, val := range map[string]string{keyUsername: c.Username, keyPassword: c.Password, keyOperator: c.ProviderID} {
		if val == "" {
			_, err = tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, val)
		}
		if err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// StoredCredentials implements session.CredentialSource.
func (s *Store) StoredCredentials(ctx context.Context) (session.Credentials, error) {
	get := func(key, fallback string) (string, error) {
		var v string
		err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && v == "") {
			return fallback, nil
		}
		return v, err
	}
	var (
		c   session.Credentials
		err error
	)
	if c.Username, err = get(keyUsername, s.fallback.Username); err != nil {
		return c, err
	}
	if c.Password, err = get(keyPassword, s.fallback.Password); err != nil {
		return c, err
	}
	if c.ProviderID, err = get(keyOperator, s.fallback.ProviderID); err != nil {
		return c, err
	}
	return c, nil
}

// OnAuthRequired implements session.CredentialSource.
func (s *Store) OnAuthRequired() {
	if s.prompt != nil {
		s.prompt()
		return
	}
	s.logger.Warn().Msg("credentials required: run `cmore login` or set CMORE_USERNAME/CMORE_PASSWORD")
}

// LoadToken implements session.TokenCache. A missing token is "", nil.
func (s *Store) LoadToken(ctx context.Context, locale string) (string, error) {
	var tok string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM tokens WHERE locale = ?`, locale).Scan(&tok)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tok, err
}

// SaveToken implements session.TokenCache.
func (s *Store) SaveToken(ctx context.Context, locale, token string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tokens (locale, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(locale) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		locale, token, time.Now().Unix())
	return err
}

// ClearToken implements session.TokenCache.
func (s *Store) ClearToken(ctx context.Context, locale string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE locale = ?`, locale)
	return err
}
