package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
	"github.com/Ss-maker786/x-auto-post/internal/retry"
)

var jst = time.FixedZone("JST", 9*60*60)

func at(hh, mm int) time.Time {
	return time.Date(2026, 8, 21, hh, mm, 0, 0, jst)
}

type memStore struct {
	rows    []domain.Post
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Load(context.Context) ([]domain.Post, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]domain.Post(nil), m.rows...), nil
}

func (m *memStore) Save(_ context.Context, rows []domain.Post) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rows = append([]domain.Post(nil), rows...)
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) byID(t *testing.T, id string) domain.Post {
	t.Helper()
	for _, p := range m.rows {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("row %s not in store", id)
	return domain.Post{}
}

type postCall struct {
	text      string
	inReplyTo string
}

type fakePoster struct {
	calls []postCall
	// errs scripts the outcome per call; a missing or nil entry succeeds
	// with id "tid-<n>".
	errs []error
}

func (f *fakePoster) PostTweet(_ context.Context, text, inReplyTo string) (string, error) {
	n := len(f.calls)
	f.calls = append(f.calls, postCall{text: text, inReplyTo: inReplyTo})
	if n < len(f.errs) && f.errs[n] != nil {
		return "", f.errs[n]
	}
	return fmt.Sprintf("tid-%d", n), nil
}

func defaultSlots() []domain.Slot {
	return []domain.Slot{
		{Start: 6, End: 9, Hour: 8},
		{Start: 10, End: 13, Hour: 12},
		{Start: 14, End: 17, Hour: 16},
		{Start: 18, End: 21, Hour: 20},
	}
}

func recordedPolicy(maxAttempts int, sleeps *[]time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		Base:        5 * time.Second,
		Cap:         120 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	}
}

func testDispatcher(st *memStore, p *fakePoster, now time.Time, policy retry.Policy) *Dispatcher {
	return &Dispatcher{
		Store:  st,
		Poster: p,
		Slots:  defaultSlots(),
		Loc:    jst,
		Retry:  policy,
		Now:    func() time.Time { return now },
	}
}

func queued(id, postAt string) domain.Post {
	return domain.Post{ID: id, Text: "text " + id, PostAt: postAt, Status: domain.StatusQueued}
}

func TestRunPrefersSlotRowOverOlderBacklog(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{
		queued("backlog", "2026-08-20 20:00"),
		queued("noon-late", "2026-08-21 12:15"),
		queued("noon", "2026-08-21 12:00"),
	}}
	st.rows[2].LastError = "x api status 503: earlier failure"
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.True(t, out.Selected)
	assert.False(t, out.Backlog)
	require.Len(t, poster.calls, 1)
	assert.Equal(t, "text noon", poster.calls[0].text)
	assert.Empty(t, poster.calls[0].inReplyTo)

	got := st.byID(t, "noon")
	assert.Equal(t, domain.StatusPosted, got.Status)
	assert.Equal(t, "tid-0", got.TweetID)
	assert.Equal(t, "2026-08-21 12:30", got.PostedAt)
	assert.Equal(t, "2026-08-21 12:30", got.LastAttemptAt)
	assert.Empty(t, got.LastError, "success clears the previous failure")

	// The older rows are untouched.
	assert.Equal(t, domain.StatusQueued, st.byID(t, "backlog").Status)
	assert.Equal(t, domain.StatusQueued, st.byID(t, "noon-late").Status)
	assert.Equal(t, 1, st.saves)
}

func TestRunBacklogFallback(t *testing.T) {
	t.Parallel()

	// A leftover 07:00 row and a future 16:00 row; the dispatcher runs at
	// 12:10. No 12-o'clock row exists, so the morning leftover goes out and
	// the future row waits.
	st := &memStore{rows: []domain.Post{
		queued("afternoon", "2026-08-21 16:00"),
		queued("morning", "2026-08-21 07:00"),
	}}
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 10), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.True(t, out.Selected)
	assert.True(t, out.Backlog)
	got := st.byID(t, "morning")
	assert.Equal(t, domain.StatusPosted, got.Status)
	assert.Equal(t, "tid-0", got.TweetID)
	assert.Equal(t, domain.StatusQueued, st.byID(t, "afternoon").Status)
}

func TestRunOutsideSlotsUsesBacklog(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{queued("p1", "2026-08-21 20:00")}}
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(23, 0), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.True(t, out.Selected)
	assert.True(t, out.Backlog)
}

func TestRunNothingDue(t *testing.T) {
	t.Parallel()

	posted := queued("done", "2026-08-21 08:00")
	posted.Status = domain.StatusPosted
	st := &memStore{rows: []domain.Post{
		posted,
		queued("future", "2026-08-21 16:00"),
	}}
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Selected)
	assert.Empty(t, poster.calls, "a posted row never reverts, a future row never fires early")
	assert.Zero(t, st.saves, "no selection, no write")
}

func TestRunDryRun(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{queued("p1", "2026-08-21 12:00")}}
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	d.DryRun = true
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.True(t, out.Selected)
	assert.Equal(t, "p1", out.Post.ID)
	assert.Empty(t, poster.calls)
	assert.Zero(t, st.saves)
	assert.Equal(t, domain.StatusQueued, st.byID(t, "p1").Status)
}

func TestRunRetriesExhaustedKeepQueued(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{queued("p1", "2026-08-21 12:00")}}
	fail := errors.New("x api status 503: upstream sad")
	poster := &fakePoster{errs: []error{fail, fail, fail}}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(3, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err, "a delivery failure is an outcome, not a run error")

	require.True(t, out.Selected)
	require.Error(t, out.Err)
	assert.Len(t, poster.calls, 3)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeps)

	got := st.byID(t, "p1")
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Empty(t, got.TweetID)
	assert.Empty(t, got.PostedAt)
	assert.Contains(t, got.LastError, "503")
	assert.Equal(t, "2026-08-21 12:30", got.LastAttemptAt)
	assert.Equal(t, 1, st.saves)
}

func TestRunNoRetryStopsAfterOneAttempt(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{queued("p1", "2026-08-21 12:00")}}
	poster := &fakePoster{errs: []error{retry.NoRetry(errors.New("x api status 403: duplicate content"))}}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Error(t, out.Err)
	assert.Len(t, poster.calls, 1)
	assert.Empty(t, sleeps)
	got := st.byID(t, "p1")
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Contains(t, got.LastError, "403")
}

func TestRunRateLimitHintBeatsExponential(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{queued("p1", "2026-08-21 12:00")}}
	limited := retry.After(errors.New("x api status 429"), 10*time.Second)
	poster := &fakePoster{errs: []error{limited, nil}}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, out.Err)
	assert.Equal(t, []time.Duration{10 * time.Second}, sleeps, "server hint replaces the 5s base delay")
	assert.Equal(t, domain.StatusPosted, st.byID(t, "p1").Status)
}

func TestRunReplyFollowsParent(t *testing.T) {
	t.Parallel()

	row := queued("p1", "2026-08-21 12:00")
	row.ReplyText = "more in this thread"
	st := &memStore{rows: []domain.Post{row}}
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, out.Err)
	require.NoError(t, out.ReplyErr)

	require.Len(t, poster.calls, 2)
	assert.Equal(t, "more in this thread", poster.calls[1].text)
	assert.Equal(t, "tid-0", poster.calls[1].inReplyTo)

	got := st.byID(t, "p1")
	assert.Equal(t, domain.StatusPosted, got.Status)
	assert.Equal(t, "tid-0", got.TweetID)
	assert.Equal(t, "tid-1", got.ReplyTweetID)
	assert.Equal(t, "2026-08-21 12:30", got.ReplyPostedAt)
	assert.Empty(t, got.LastError)
	assert.Equal(t, 1, st.saves, "one save covers parent and reply")
}

func TestRunReplyFailureKeepsParentPosted(t *testing.T) {
	t.Parallel()

	row := queued("p1", "2026-08-21 12:00")
	row.ReplyText = "follow-up"
	st := &memStore{rows: []domain.Post{row}}
	fail := errors.New("x api status 503: still sad")
	poster := &fakePoster{errs: []error{nil, fail, fail, fail}}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(3, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, out.Err)
	require.Error(t, out.ReplyErr)
	assert.Len(t, poster.calls, 4, "one parent call, three reply attempts")

	got := st.byID(t, "p1")
	assert.Equal(t, domain.StatusPosted, got.Status, "reply failure never reverts the parent")
	assert.Equal(t, "tid-0", got.TweetID)
	assert.Empty(t, got.ReplyTweetID)
	assert.Empty(t, got.ReplyPostedAt)
	assert.True(t, strings.HasPrefix(got.LastError, "reply: "), "got %q", got.LastError)
}

func TestRunSkipsUnparsablePostAt(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{
		queued("bad", "soon"),
		queued("good", "2026-08-21 12:00"),
	}}
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)

	require.True(t, out.Selected)
	assert.Equal(t, "good", out.Post.ID)

	bad := st.byID(t, "bad")
	assert.Equal(t, domain.StatusQueued, bad.Status)
	assert.Equal(t, "soon", bad.PostAt, "the malformed row rides along untouched")
}

func TestRunTieBreaksOnFileOrder(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{
		queued("first", "2026-08-21 12:00"),
		queued("second", "2026-08-21 12:00"),
	}}
	poster := &fakePoster{}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	out, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", out.Post.ID)
}

func TestRunBoundsLastError(t *testing.T) {
	t.Parallel()

	st := &memStore{rows: []domain.Post{queued("p1", "2026-08-21 12:00")}}
	poster := &fakePoster{errs: []error{retry.NoRetry(errors.New(strings.Repeat("e", 1000)))}}
	var sleeps []time.Duration

	d := testDispatcher(st, poster, at(12, 30), recordedPolicy(5, &sleeps))
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.byID(t, "p1").LastError, maxLastError)
}

func TestRunStoreFaults(t *testing.T) {
	t.Parallel()

	t.Run("load", func(t *testing.T) {
		t.Parallel()

		st := &memStore{loadErr: errors.New("disk gone")}
		d := testDispatcher(st, &fakePoster{}, at(12, 30), retry.Default())
		_, err := d.Run(context.Background())
		require.Error(t, err)
	})

	t.Run("save", func(t *testing.T) {
		t.Parallel()

		st := &memStore{
			rows:    []domain.Post{queued("p1", "2026-08-21 12:00")},
			saveErr: errors.New("disk full"),
		}
		var sleeps []time.Duration
		d := testDispatcher(st, &fakePoster{}, at(12, 30), recordedPolicy(5, &sleeps))
		_, err := d.Run(context.Background())
		require.Error(t, err)
	})
}
