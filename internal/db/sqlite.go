package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/story"
)

// DB wraps database operations
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// StorySummary is the listing view of a stored story
type StorySummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AuthorID    string    `json:"author_id,omitempty"`
	SceneCount  int       `json:"scene_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{conn: conn}

	// Run migrations
	if err := db.migrate(); err != nil {
		return nil, err
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs database migrations
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		author_id TEXT,
		scene_count INTEGER NOT NULL,
		document TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS progress (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, key)
	);

	CREATE TABLE IF NOT EXISTS token_balances (
		user_id TEXT NOT NULL,
		token_type TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, token_type)
	);

	CREATE INDEX IF NOT EXISTS idx_stories_author_id ON stories(author_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveStory validates and upserts a story document
func (db *DB) SaveStory(ctx context.Context, s *story.Story) error {
	s.Normalize()
	if err := s.Validate(); err != nil {
		return err
	}

	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode story: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO stories (id, title, description, author_id, scene_count, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			author_id = excluded.author_id,
			scene_count = excluded.scene_count,
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`, s.ID, s.Title, s.Description, s.AuthorID, len(s.Scenes), string(doc))
	return err
}

// GetStory loads a story document
func (db *DB) GetStory(ctx context.Context, id string) (*story.Story, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var doc string
	err := db.conn.QueryRowContext(ctx, `SELECT document FROM stories WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeStoryNotFound, "story not found: "+id)
	}
	if err != nil {
		return nil, err
	}

	var s story.Story
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return nil, fmt.Errorf("failed to decode story %s: %w", id, err)
	}
	s.Normalize()
	return &s, nil
}

// ListStories returns story summaries, most recently updated first
func (db *DB) ListStories(ctx context.Context) ([]StorySummary, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, COALESCE(description, ''), COALESCE(author_id, ''), scene_count, updated_at
		FROM stories ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]StorySummary, 0)
	for rows.Next() {
		var s StorySummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.AuthorID, &s.SceneCount, &s.UpdatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// DeleteStory deletes a story document
func (db *DB) DeleteStory(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, "DELETE FROM stories WHERE id = ?", id)
	return err
}

// GetProgress reads a user's progress record; nil when absent
func (db *DB) GetProgress(ctx context.Context, userID, key string) (*story.Progress, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var value string
	err := db.conn.QueryRowContext(ctx, `
		SELECT value FROM progress WHERE user_id = ? AND key = ?
	`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p story.Progress
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return nil, fmt.Errorf("failed to decode progress %s: %w", key, err)
	}
	return &p, nil
}

// SaveProgress writes a user's progress record
func (db *DB) SaveProgress(ctx context.Context, userID, key string, p *story.Progress) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO progress (user_id, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, userID, key, string(value))
	return err
}

// DeleteProgress removes a user's progress record
func (db *DB) DeleteProgress(ctx context.Context, userID, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, "DELETE FROM progress WHERE user_id = ? AND key = ?", userID, key)
	return err
}

// Balance returns a user's token balance, zero when no row exists
func (db *DB) Balance(ctx context.Context, userID string, token story.TokenType) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var balance int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT balance FROM token_balances WHERE user_id = ? AND token_type = ?
	`, userID, string(token)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Credit adds amount (possibly negative) to a user's balance and returns the new balance
func (db *DB) Credit(ctx context.Context, userID string, token story.TokenType, amount int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_balances (user_id, token_type, balance) VALUES (?, ?, ?)
		ON CONFLICT(user_id, token_type) DO UPDATE SET balance = balance + excluded.balance
	`, userID, string(token), amount)
	if err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
		SELECT balance FROM token_balances WHERE user_id = ? AND token_type = ?
	`, userID, string(token)).Scan(&balance); err != nil {
		return 0, err
	}

	return balance, tx.Commit()
}
