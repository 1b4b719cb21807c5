package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
)

// Canonical column order. Older files may carry only a prefix of these;
// missing ones are appended to the header on the next save.
var columns = []string{
	"id",
	"text",
	"post_at",
	"status",
	"tweet_id",
	"posted_at",
	"reply_text",
	"reply_tweet_id",
	"reply_posted_at",
	"last_error",
	"last_attempt_at",
}

// csvStore keeps the queue in a header-row CSV file.
//
// Unknown columns (hand-added notes and the like) survive a round-trip: they
// are remembered per row id at load time and written back on save.
type csvStore struct {
	mu     sync.Mutex
	path   string
	header []string
	extras map[string]map[string]string
}

func openCSV(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage.path is required for csv driver")
	}
	return &csvStore{path: cfg.Path}, nil
}

func (s *csvStore) Load(ctx context.Context) ([]domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate short rows from older headers
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if len(records) == 0 {
		s.header = append([]string(nil), columns...)
		s.extras = nil
		return nil, nil
	}

	header := records[0]
	s.header = mergeHeader(header)
	s.extras = make(map[string]map[string]string)

	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}

	rows := make([]domain.Post, 0, len(records)-1)
	for _, rec := range records[1:] {
		get := func(i int) string {
			if i < len(rec) {
				return rec[i]
			}
			return ""
		}
		var p domain.Post
		for i, col := range header {
			if known[col] {
				setField(&p, col, get(i))
			}
		}
		// Second pass: unknown columns, stashed by row id so Save can
		// rewrite them (the id column may come after them in the header).
		for i, col := range header {
			if known[col] || get(i) == "" {
				continue
			}
			ex := s.extras[p.ID]
			if ex == nil {
				ex = make(map[string]string)
				s.extras[p.ID] = ex
			}
			ex[col] = get(i)
		}
		rows = append(rows, p)
	}
	return rows, nil
}

func (s *csvStore) Save(ctx context.Context, rows []domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := s.header
	if len(header) == 0 {
		header = columns
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write queue: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write queue header: %w", err)
	}
	rec := make([]string, len(header))
	for _, p := range rows {
		for i, col := range header {
			if v, ok := fieldValue(p, col); ok {
				rec[i] = v
			} else {
				rec[i] = s.extras[p.ID][col]
			}
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write queue row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush queue: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close queue: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}

func (s *csvStore) Close() error { return nil }

// mergeHeader keeps the file's column order and appends any canonical
// column it does not have yet.
func mergeHeader(have []string) []string {
	header := append([]string(nil), have...)
	seen := make(map[string]bool, len(have))
	for _, c := range have {
		seen[c] = true
	}
	for _, c := range columns {
		if !seen[c] {
			header = append(header, c)
		}
	}
	return header
}

func setField(p *domain.Post, col, v string) {
	switch col {
	case "id":
		p.ID = v
	case "text":
		p.Text = v
	case "post_at":
		p.PostAt = v
	case "status":
		p.Status = v
	case "tweet_id":
		p.TweetID = v
	case "posted_at":
		p.PostedAt = v
	case "reply_text":
		p.ReplyText = v
	case "reply_tweet_id":
		p.ReplyTweetID = v
	case "reply_posted_at":
		p.ReplyPostedAt = v
	case "last_error":
		p.LastError = v
	case "last_attempt_at":
		p.LastAttemptAt = v
	}
}

func fieldValue(p domain.Post, col string) (string, bool) {
	switch col {
	case "id":
		return p.ID, true
	case "text":
		return p.Text, true
	case "post_at":
		return p.PostAt, true
	case "status":
		return p.Status, true
	case "tweet_id":
		return p.TweetID, true
	case "posted_at":
		return p.PostedAt, true
	case "reply_text":
		return p.ReplyText, true
	case "reply_tweet_id":
		return p.ReplyTweetID, true
	case "reply_posted_at":
		return p.ReplyPostedAt, true
	case "last_error":
		return p.LastError, true
	case "last_attempt_at":
		return p.LastAttemptAt, true
	}
	return "", false
}
