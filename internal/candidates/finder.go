// Package candidates implements the discovery job: search recent tweets for
// configured tags and keywords, filter out noise, and emit a CSV of accounts
// worth a human look. Output is advisory; nothing downstream consumes it
// automatically.
package candidates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
	"github.com/Ss-maker786/x-auto-post/internal/retry"
	"github.com/Ss-maker786/x-auto-post/internal/xapi"
)

// Searcher runs a recent-search query. Implemented by xapi.Client.
type Searcher interface {
	SearchRecent(ctx context.Context, query string, maxResults int) (xapi.SearchResult, error)
}

// Finder holds one discovery run's inputs.
type Finder struct {
	Searcher   Searcher
	Tags       []string
	Keywords   []string
	BlockWords []string
	Lang       string
	MaxResults int
	Loc        *time.Location
	Retry      retry.Policy

	Now func() time.Time
}

// BuildQuery quotes every tag and keyword, ORs them together, and restricts
// the search to original posts in the given language.
func BuildQuery(tags, keywords []string, lang string) string {
	var terms []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, `"`+t+`"`)
		}
	}
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			terms = append(terms, `"`+k+`"`)
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return fmt.Sprintf("(%s) lang:%s -is:retweet -is:reply", strings.Join(terms, " OR "), lang)
}

// Run searches once (under the retry policy) and reduces the result to
// deduplicated, filtered candidate rows. A search failure is returned as-is:
// unlike dispatch there is no queue row to annotate, so the caller should
// treat it as a job failure.
func (f *Finder) Run(ctx context.Context) ([]domain.Candidate, error) {
	query := BuildQuery(f.Tags, f.Keywords, f.Lang)
	if query == "" {
		return nil, errors.New("no search tags or keywords configured")
	}
	log.Info().Str("query", query).Int("max_results", f.MaxResults).Msg("searching for candidates")

	var res xapi.SearchResult
	err := retry.Do(ctx, f.Retry, func(ctx context.Context) error {
		var err error
		res, err = f.Searcher.SearchRecent(ctx, query, f.MaxResults)
		if err != nil {
			log.Warn().Err(err).Msg("search attempt failed")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	users := make(map[string]xapi.User, len(res.Users))
	for _, u := range res.Users {
		users[u.ID] = u
	}

	date := f.now().In(f.loc()).Format("2006-01-02")
	seen := make(map[string]bool)
	var out []domain.Candidate
	for _, tw := range res.Tweets {
		u, ok := users[tw.AuthorID]
		if !ok {
			continue
		}
		username := strings.TrimSpace(u.Username)
		if username == "" || seen[username] {
			continue
		}
		name := sanitize(u.Name)
		bio := sanitize(u.Description)
		last := sanitize(tw.Text)
		if word, hit := f.blocked(name, bio, last); hit {
			log.Debug().Str("username", username).Str("word", word).Msg("skipping blocked candidate")
			continue
		}
		seen[username] = true
		out = append(out, domain.Candidate{
			Date:        date,
			Username:    username,
			DisplayName: name,
			Bio:         bio,
			LastTweet:   last,
			URL:         "https://x.com/" + username,
		})
	}
	log.Info().Int("tweets", len(res.Tweets)).Int("candidates", len(out)).Msg("candidate search done")
	return out, nil
}

// blocked reports whether any field contains a block word, case-insensitive.
func (f *Finder) blocked(fields ...string) (string, bool) {
	for _, w := range f.BlockWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), w) {
				return w, true
			}
		}
	}
	return "", false
}

// sanitize collapses all whitespace runs, including newlines, to single
// spaces so every field stays a single CSV-friendly line.
func sanitize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (f *Finder) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Finder) loc() *time.Location {
	if f.Loc != nil {
		return f.Loc
	}
	return time.Local
}
