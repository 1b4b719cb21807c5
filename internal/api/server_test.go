package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ss-maker786/x-auto-post/internal/dispatch"
	"github.com/Ss-maker786/x-auto-post/internal/domain"
	"github.com/Ss-maker786/x-auto-post/internal/retry"
	"github.com/Ss-maker786/x-auto-post/internal/store"
)

type scriptedPoster struct {
	calls int
	errs  []error
}

func (p *scriptedPoster) PostTweet(_ context.Context, text, inReplyTo string) (string, error) {
	n := p.calls
	p.calls++
	if n < len(p.errs) && p.errs[n] != nil {
		return "", p.errs[n]
	}
	return fmt.Sprintf("tid-%d", n), nil
}

// newTestServer backs the API with a real CSV store in a temp dir and a
// clock pinned inside the noon slot.
func newTestServer(t *testing.T, poster *scriptedPoster) (*httptest.Server, store.Store) {
	t.Helper()

	st, err := store.Open(store.Config{Driver: "csv", Path: filepath.Join(t.TempDir(), "posts.csv")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Save(context.Background(), nil))

	jst := time.FixedZone("JST", 9*60*60)
	disp := &dispatch.Dispatcher{
		Store:  st,
		Poster: poster,
		Slots:  []domain.Slot{{Start: 10, End: 13, Hour: 12}},
		Loc:    jst,
		Retry: retry.Policy{
			MaxAttempts: 2,
			Base:        time.Second,
			Cap:         time.Second,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
		Now: func() time.Time { return time.Date(2026, 8, 21, 12, 30, 0, 0, jst) },
	}

	srv := httptest.NewServer(NewServer(st, disp))
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedPoster{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestAddListGet(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedPoster{})

	resp := postJSON(t, srv.URL+"/api/queue", `{"text":"hello","post_at":"2026-08-21 12:00","reply_text":"more"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[addPostResp](t, resp)
	assert.True(t, strings.HasPrefix(created.ID, "post_"), "got id %q", created.ID)

	listResp, err := http.Get(srv.URL + "/api/queue")
	require.NoError(t, err)
	rows := decodeBody[[]domain.Post](t, listResp)
	require.Len(t, rows, 1)
	assert.Equal(t, created.ID, rows[0].ID)
	assert.Equal(t, domain.StatusQueued, rows[0].Status)
	assert.Equal(t, "more", rows[0].ReplyText)

	oneResp, err := http.Get(srv.URL + "/api/queue/" + created.ID)
	require.NoError(t, err)
	got := decodeBody[domain.Post](t, oneResp)
	assert.Equal(t, "hello", got.Text)

	missing, err := http.Get(srv.URL + "/api/queue/post_nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, 404, missing.StatusCode)
}

func TestAddValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedPoster{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing text", `{"post_at":"2026-08-21 12:00"}`, 400},
		{"missing post_at", `{"text":"hi"}`, 400},
		{"bad post_at", `{"text":"hi","post_at":"tomorrow noon"}`, 400},
		{"text too long", fmt.Sprintf(`{"text":%q,"post_at":"2026-08-21 12:00"}`, strings.Repeat("a", 300)), 400},
		{"not json", `nope`, 400},
	}
	for _, tt := range tests {
		resp := postJSON(t, srv.URL+"/api/queue", tt.body)
		resp.Body.Close()
		assert.Equal(t, tt.want, resp.StatusCode, tt.name)
	}
}

func TestAddDuplicateID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedPoster{})

	first := postJSON(t, srv.URL+"/api/queue", `{"id":"post_x","text":"a","post_at":"2026-08-21 12:00"}`)
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	dup := postJSON(t, srv.URL+"/api/queue", `{"id":"post_x","text":"b","post_at":"2026-08-21 12:00"}`)
	dup.Body.Close()
	assert.Equal(t, 409, dup.StatusCode)
}

func TestDispatchEndpoint(t *testing.T) {
	t.Parallel()

	poster := &scriptedPoster{}
	srv, st := newTestServer(t, poster)

	resp := postJSON(t, srv.URL+"/api/queue", `{"id":"post_1","text":"due","post_at":"2026-08-21 12:00"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dispResp := postJSON(t, srv.URL+"/api/dispatch", "")
	require.Equal(t, 200, dispResp.StatusCode)
	out := decodeBody[dispatchResp](t, dispResp)
	require.True(t, out.Selected)
	require.NotNil(t, out.Post)
	assert.Equal(t, domain.StatusPosted, out.Post.Status)
	assert.Equal(t, "tid-0", out.Post.TweetID)
	assert.Empty(t, out.Error)

	// The outcome is durable, so a second trigger finds nothing.
	rows, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusPosted, rows[0].Status)

	again := postJSON(t, srv.URL+"/api/dispatch", "")
	out = decodeBody[dispatchResp](t, again)
	assert.False(t, out.Selected)
	assert.Equal(t, 1, poster.calls)
}

func TestDispatchEndpointReportsFailure(t *testing.T) {
	t.Parallel()

	poster := &scriptedPoster{errs: []error{retry.NoRetry(fmt.Errorf("x api status 403: duplicate"))}}
	srv, st := newTestServer(t, poster)

	resp := postJSON(t, srv.URL+"/api/queue", `{"id":"post_1","text":"due","post_at":"2026-08-21 12:00"}`)
	resp.Body.Close()

	dispResp := postJSON(t, srv.URL+"/api/dispatch", "")
	out := decodeBody[dispatchResp](t, dispResp)
	require.True(t, out.Selected)
	assert.Contains(t, out.Error, "403")
	require.NotNil(t, out.Post)
	assert.Equal(t, domain.StatusQueued, out.Post.Status)

	rows, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, rows[0].LastError, "403")
}
