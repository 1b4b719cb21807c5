// Package xapi is a minimal client for the X v2 endpoints the bot uses:
// create-tweet and recent search. Errors are pre-classified for the retry
// layer: 429/502/503/504 and transport faults retry, other HTTP errors
// don't, and a 429 carries the server's reset as an explicit delay.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/time/rate"

	"github.com/Ss-maker786/x-auto-post/internal/retry"
)

const (
	// DefaultBaseURL is the v2 API root.
	DefaultBaseURL = "https://api.twitter.com/2"

	requestTimeout = 30 * time.Second

	// maxBodyExcerpt bounds how much of an error response ends up in logs
	// and in the queue's last_error column.
	maxBodyExcerpt = 200
)

// Credentials holds the user-context OAuth1 quad and the app-only bearer
// token. Posting needs the quad; search needs the bearer.
type Credentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
	BearerToken       string
}

// Client talks to the X API. BaseURL and Limiter may be overridden before
// first use (tests point BaseURL at a local server).
type Client struct {
	BaseURL string

	// Limiter spaces consecutive calls so a dispatch run with a reply, or a
	// paginating search, stays polite. Nil disables client-side limiting.
	Limiter *rate.Limiter

	oauth  *http.Client
	plain  *http.Client
	bearer string
}

// NewClient builds a client from credentials. The OAuth1-signed client is
// only constructed when the quad is present, so a search-only caller can
// pass just the bearer token.
func NewClient(creds Credentials) *Client {
	c := &Client{
		BaseURL: DefaultBaseURL,
		Limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		plain:   &http.Client{Timeout: requestTimeout},
		bearer:  creds.BearerToken,
	}
	if creds.APIKey != "" {
		cfg := oauth1.NewConfig(creds.APIKey, creds.APISecret)
		tok := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
		c.oauth = cfg.Client(oauth1.NoContext, tok)
		c.oauth.Timeout = requestTimeout
	}
	return c
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// PostTweet creates a tweet and returns its id. A non-empty inReplyTo makes
// it a reply to that tweet.
func (c *Client) PostTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	if c.oauth == nil {
		return "", errors.New("oauth credentials not configured")
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	reqBody := tweetRequest{Text: text}
	if inReplyTo != "" {
		reqBody.Reply = &tweetReply{InReplyToTweetID: inReplyTo}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.oauth.Do(req)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tweet response: %w", err)
	}
	if err := classify(resp, body); err != nil {
		return "", err
	}

	var out tweetResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", retry.NoRetry(fmt.Errorf("decode tweet response: %w", err))
	}
	if out.Data.ID == "" {
		return "", retry.NoRetry(errors.New("tweet response missing data.id"))
	}
	return out.Data.ID, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// classify turns a non-2xx response into a retry-annotated error.
func classify(resp *http.Response, body []byte) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	err := fmt.Errorf("x api status %d: %s", resp.StatusCode, truncate(string(body), maxBodyExcerpt))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		if d, ok := rateLimitWait(resp.Header, time.Now()); ok {
			return retry.After(err, d)
		}
		return err
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return err
	}
	return retry.NoRetry(err)
}

// rateLimitWait reads the x-rate-limit-reset header (epoch seconds) and
// converts it to a wait from now.
func rateLimitWait(h http.Header, now time.Time) (time.Duration, bool) {
	raw := h.Get("x-rate-limit-reset")
	if raw == "" {
		return 0, false
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Unix(epoch, 0).Sub(now), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
