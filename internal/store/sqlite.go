package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS posts (
  position INTEGER PRIMARY KEY,
  id TEXT NOT NULL,
  text TEXT NOT NULL DEFAULT '',
  post_at TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'queued',
  tweet_id TEXT NOT NULL DEFAULT '',
  posted_at TEXT NOT NULL DEFAULT '',
  reply_text TEXT NOT NULL DEFAULT '',
  reply_tweet_id TEXT NOT NULL DEFAULT '',
  reply_posted_at TEXT NOT NULL DEFAULT '',
  last_error TEXT NOT NULL DEFAULT '',
  last_attempt_at TEXT NOT NULL DEFAULT ''
);
`

// sqliteStore keeps the queue in a single SQLite table. The position column
// round-trips row order so the csv and sqlite backends select identically.
type sqliteStore struct{ db *sql.DB }

func openSQLite(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure queue schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Load(ctx context.Context) ([]domain.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,text,post_at,status,tweet_id,posted_at,reply_text,reply_tweet_id,reply_posted_at,last_error,last_attempt_at
FROM posts ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()

	var out []domain.Post
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.Text, &p.PostAt, &p.Status, &p.TweetID, &p.PostedAt,
			&p.ReplyText, &p.ReplyTweetID, &p.ReplyPostedAt, &p.LastError, &p.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, posts []domain.Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	for i, p := range posts {
		_, err := tx.ExecContext(ctx, `
INSERT INTO posts (position,id,text,post_at,status,tweet_id,posted_at,reply_text,reply_tweet_id,reply_posted_at,last_error,last_attempt_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			i, p.ID, p.Text, p.PostAt, p.Status, p.TweetID, p.PostedAt,
			p.ReplyText, p.ReplyTweetID, p.ReplyPostedAt, p.LastError, p.LastAttemptAt)
		if err != nil {
			return fmt.Errorf("save queue row %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error { return s.db.Close() }
