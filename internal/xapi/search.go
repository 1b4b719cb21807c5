package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Ss-maker786/x-auto-post/internal/retry"
)

// Tweet is one search hit.
type Tweet struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Lang      string `json:"lang"`
}

// User is an expanded author from the search includes.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

// SearchResult pairs the matched tweets with their expanded authors.
type SearchResult struct {
	Tweets []Tweet
	Users  []User
}

type searchResponse struct {
	Data     []Tweet `json:"data"`
	Includes struct {
		Users []User `json:"users"`
	} `json:"includes"`
}

// SearchRecent runs a recent-search query with author expansion. maxResults
// follows the API bounds (10..100).
func (c *Client) SearchRecent(ctx context.Context, query string, maxResults int) (SearchResult, error) {
	if c.bearer == "" {
		return SearchResult{}, errors.New("bearer token not configured")
	}
	if err := c.wait(ctx); err != nil {
		return SearchResult{}, err
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("expansions", "author_id")
	params.Set("tweet.fields", "author_id,created_at,lang,text")
	params.Set("user.fields", "description,name,username")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/tweets/search/recent?"+params.Encode(), nil)
	if err != nil {
		return SearchResult{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.plain.Do(req)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search tweets: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResult{}, fmt.Errorf("read search response: %w", err)
	}
	if err := classify(resp, body); err != nil {
		return SearchResult{}, err
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return SearchResult{}, retry.NoRetry(fmt.Errorf("decode search response: %w", err))
	}
	return SearchResult{Tweets: out.Data, Users: out.Includes.Users}, nil
}
