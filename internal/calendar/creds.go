package calendar

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// NOTE: The SQL stores assume the following table exists:
//
//   calendar_credentials (
//     callee_id TEXT PRIMARY KEY,
//     token     TEXT,
//     feed_url  TEXT
//   )
//
// A missing row means the callee never connected a calendar.

// SQLCredentialStore resolves per-callee API tokens from Postgres.
type SQLCredentialStore struct {
	db *sql.DB
}

func NewSQLCredentialStore(db *sql.DB) *SQLCredentialStore {
	return &SQLCredentialStore{db: db}
}

func (s *SQLCredentialStore) Token(ctx context.Context, calleeID string) (string, bool, error) {
	const q = `
SELECT token
FROM calendar_credentials
WHERE callee_id = $1 AND token IS NOT NULL AND token <> ''
`
	var token string
	if err := s.db.QueryRowContext(ctx, q, calleeID).Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return token, true, nil
}

// SQLFeedStore resolves per-callee ICS feed URLs from Postgres.
type SQLFeedStore struct {
	db *sql.DB
}

func NewSQLFeedStore(db *sql.DB) *SQLFeedStore {
	return &SQLFeedStore{db: db}
}

func (s *SQLFeedStore) FeedURL(ctx context.Context, calleeID string) (string, bool, error) {
	const q = `
SELECT feed_url
FROM calendar_credentials
WHERE callee_id = $1 AND feed_url IS NOT NULL AND feed_url <> ''
`
	var url string
	if err := s.db.QueryRowContext(ctx, q, calleeID).Scan(&url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return url, true, nil
}

// MemoryCredentialStore is a test double for CredentialStore.
type MemoryCredentialStore struct {
	mu     sync.Mutex
	Tokens map[string]string
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{Tokens: map[string]string{}}
}

func (m *MemoryCredentialStore) Token(ctx context.Context, calleeID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.Tokens[calleeID]
	return tok, ok, nil
}

// MemoryFeedStore is a test double for FeedStore.
type MemoryFeedStore struct {
	mu   sync.Mutex
	URLs map[string]string
}

func NewMemoryFeedStore() *MemoryFeedStore {
	return &MemoryFeedStore{URLs: map[string]string{}}
}

func (m *MemoryFeedStore) FeedURL(ctx context.Context, calleeID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url, ok := m.URLs[calleeID]
	return url, ok, nil
}
