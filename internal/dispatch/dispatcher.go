// Package dispatch implements one run of the posting queue: select the due
// row for the current time slot, deliver it with bounded retries, write the
// outcome back. A delivery failure is an outcome, not a run failure; only
// store faults make Run return an error.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
	"github.com/Ss-maker786/x-auto-post/internal/retry"
	"github.com/Ss-maker786/x-auto-post/internal/store"
)

// maxLastError bounds the persisted last_error column.
const maxLastError = 280

// Poster delivers one tweet and returns its id. Implemented by xapi.Client.
type Poster interface {
	PostTweet(ctx context.Context, text, inReplyTo string) (string, error)
}

// Dispatcher holds everything one run needs. Now is overridable so tests can
// pin the clock; nil means time.Now.
type Dispatcher struct {
	Store  store.Store
	Poster Poster
	Slots  []domain.Slot
	Loc    *time.Location
	Retry  retry.Policy

	// DryRun selects and logs but neither posts nor saves.
	DryRun bool

	Now func() time.Time
}

// Outcome describes what one run did.
type Outcome struct {
	// Selected is false when no queued row was due.
	Selected bool
	// Backlog marks a selection made outside the current slot's own rows.
	Backlog bool
	// Post is the selected row after the outcome was applied.
	Post domain.Post

	// Err is the recorded delivery failure, nil on success. ReplyErr is the
	// recorded reply failure; it never unsets the parent's posted status.
	Err      error
	ReplyErr error
}

// Run executes one dispatch: load, select, deliver, save. The returned
// error is reserved for store faults; delivery failures come back inside
// the Outcome with the row already annotated.
func (d *Dispatcher) Run(ctx context.Context) (Outcome, error) {
	rows, err := d.Store.Load(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load queue: %w", err)
	}

	now := d.now().In(d.Loc)
	idx, backlog := d.selectRow(rows, now)
	if idx < 0 {
		log.Info().Time("now", now).Msg("nothing to dispatch")
		return Outcome{}, nil
	}

	p := &rows[idx]
	log.Info().
		Str("id", p.ID).
		Str("post_at", p.PostAt).
		Bool("backlog", backlog).
		Msg("selected post")

	out := Outcome{Selected: true, Backlog: backlog}
	if d.DryRun {
		log.Info().Str("id", p.ID).Msg("dry run, skipping delivery")
		out.Post = *p
		return out, nil
	}

	stamp := func() string { return domain.FormatTime(d.now().In(d.Loc)) }

	tweetID, derr := d.deliver(ctx, p.Text, "")
	if derr != nil {
		p.LastError = boundError(derr.Error())
		p.LastAttemptAt = stamp()
		out.Err = derr
		log.Error().Err(derr).Str("id", p.ID).Msg("delivery failed, row stays queued")
	} else {
		p.Status = domain.StatusPosted
		p.TweetID = tweetID
		p.PostedAt = stamp()
		p.LastAttemptAt = p.PostedAt
		p.LastError = ""
		log.Info().Str("id", p.ID).Str("tweet_id", tweetID).Msg("posted")

		if strings.TrimSpace(p.ReplyText) != "" {
			replyID, rerr := d.deliver(ctx, p.ReplyText, tweetID)
			if rerr != nil {
				p.LastError = boundError("reply: " + rerr.Error())
				p.LastAttemptAt = stamp()
				out.ReplyErr = rerr
				log.Error().Err(rerr).Str("id", p.ID).Msg("reply failed, parent stays posted")
			} else {
				p.ReplyTweetID = replyID
				p.ReplyPostedAt = stamp()
				p.LastAttemptAt = p.ReplyPostedAt
				log.Info().Str("id", p.ID).Str("reply_tweet_id", replyID).Msg("reply posted")
			}
		}
	}

	if err := d.Store.Save(ctx, rows); err != nil {
		return out, fmt.Errorf("save queue: %w", err)
	}
	out.Post = *p
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, text, inReplyTo string) (string, error) {
	var id string
	err := retry.Do(ctx, d.Retry, func(ctx context.Context) error {
		var err error
		id, err = d.Poster.PostTweet(ctx, text, inReplyTo)
		if err != nil {
			log.Warn().Err(err).Msg("tweet attempt failed")
		}
		return err
	})
	return id, err
}

type queuedRow struct {
	idx int
	at  time.Time
}

// queuedRows parses post_at for every queued row. A row whose timestamp does
// not parse is skipped with a warning; one bad row must not block the rest
// of the queue.
func (d *Dispatcher) queuedRows(rows []domain.Post) []queuedRow {
	var out []queuedRow
	for i, p := range rows {
		if !p.Queued() {
			continue
		}
		at, err := p.PostTime(d.Loc)
		if err != nil {
			log.Warn().
				Str("id", p.ID).
				Str("post_at", p.PostAt).
				Msg("skipping row with unparsable post_at")
			continue
		}
		out = append(out, queuedRow{idx: i, at: at})
	}
	return out
}

// selectRow picks the row to dispatch: inside a slot, today's rows scheduled
// for that slot's hour come first; otherwise the oldest due row wins. Ties
// on post_at resolve to the earlier row in file order. Returns -1 when
// nothing is due; the bool reports whether the pick came from the backlog.
func (d *Dispatcher) selectRow(rows []domain.Post, now time.Time) (int, bool) {
	due := d.queuedRows(rows)

	pick := func(match func(queuedRow) bool) int {
		best := -1
		var bestAt time.Time
		for _, q := range due {
			if q.at.After(now) || !match(q) {
				continue
			}
			if best < 0 || q.at.Before(bestAt) {
				best, bestAt = q.idx, q.at
			}
		}
		return best
	}

	if slot, ok := CurrentSlot(d.Slots, now.Hour()); ok {
		y, m, day := now.Date()
		inSlot := pick(func(q queuedRow) bool {
			qy, qm, qd := q.at.Date()
			return qy == y && qm == m && qd == day && q.at.Hour() == slot.Hour
		})
		if inSlot >= 0 {
			return inSlot, false
		}
	}
	return pick(func(queuedRow) bool { return true }), true
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func boundError(s string) string {
	if len(s) > maxLastError {
		return s[:maxLastError]
	}
	return s
}
