package domain

import (
	"strings"
	"time"
)

// Post statuses. Failed attempts do not get their own status: the row stays
// queued with last_error set, so it is picked up again on a later run.
const (
	StatusQueued = "queued"
	StatusPosted = "posted"
)

// TimeLayout is the minute-precision layout used for every timestamp column.
const TimeLayout = "2006-01-02 15:04"

// Post is one row of the posting queue. All fields are kept as raw strings,
// mirroring the tabular file: timestamps are parsed where they are needed so
// a malformed value in one row cannot poison loading the rest.
type Post struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	PostAt        string `json:"post_at"`
	Status        string `json:"status"`
	TweetID       string `json:"tweet_id"`
	PostedAt      string `json:"posted_at"`
	ReplyText     string `json:"reply_text"`
	ReplyTweetID  string `json:"reply_tweet_id"`
	ReplyPostedAt string `json:"reply_posted_at"`
	LastError     string `json:"last_error"`
	LastAttemptAt string `json:"last_attempt_at"`
}

// Queued reports whether the row is still waiting to be posted.
func (p Post) Queued() bool { return p.Status == StatusQueued }

// PostTime parses post_at in the given location.
func (p Post) PostTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, strings.TrimSpace(p.PostAt), loc)
}

// FormatTime renders t in the canonical minute-precision layout.
func FormatTime(t time.Time) string { return t.Format(TimeLayout) }

// Slot maps an inclusive hour window to the dispatch hour whose posts it
// serves. A run at any hour in [Start, End] prefers rows scheduled at Hour.
type Slot struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
	Hour  int `yaml:"hour" json:"hour"`
}

// Candidate is one row of the discovery output: an account worth a look,
// joined from a recent-search result and its author record.
type Candidate struct {
	Date        string `json:"date"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	LastTweet   string `json:"last_tweet"`
	URL         string `json:"url"`
}
