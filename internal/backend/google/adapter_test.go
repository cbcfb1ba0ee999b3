package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) { return string(s), nil }

type failingTokens struct{}

func (failingTokens) Token(ctx context.Context) (string, error) {
	return "", fmt.Errorf("no refresh token stored, run auth again")
}

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := New(model.GoogleConfig{TaskListID: "list-1"}, staticTokens("tok-1"))
	a.client.base = srv.URL
	return a
}

func TestFetchPagesThroughResults(t *testing.T) {
	var tokens []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/tasks/v1/lists/list-1/tasks", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("showCompleted"))
		assert.Equal(t, "true", q.Get("showHidden"))
		tokens = append(tokens, q.Get("pageToken"))

		if q.Get("pageToken") == "" {
			json.NewEncoder(w).Encode(taskPage{
				Items: []task{
					{ID: "t1", Title: "first", Status: "needsAction", Updated: "2026-02-01T10:00:00.000Z"},
					{ID: "t-del", Title: "tombstone", Deleted: true},
				},
				NextPageToken: "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(taskPage{
			Items: []task{
				{ID: "t2", Title: "second", Status: "completed", Completed: "2026-02-02T08:00:00.000Z"},
			},
		})
	})

	items, err := newTestAdapter(t, handler).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"", "page2"}, tokens)
	require.Len(t, items, 2)

	assert.Equal(t, "t1", items[0].ID)
	assert.Equal(t, backend.DueDateOnly, items[0].DueGranularity)
	assert.False(t, items[0].ChangeByEtag)
	assert.Positive(t, items[0].Modified)

	assert.Equal(t, "t2", items[1].ID)
	assert.True(t, items[1].Done)
	assert.Positive(t, items[1].DoneAt)
}

func TestFetchWithoutListConfigured(t *testing.T) {
	a := New(model.GoogleConfig{}, staticTokens("tok"))
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
}

func TestTokenFailureBecomesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach the server")
	}))
	defer srv.Close()

	a := New(model.GoogleConfig{TaskListID: "list-1"}, failingTokens{})
	a.client.base = srv.URL

	_, err := a.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, backend.IsAuthError(err))
}

func TestForbiddenBecomesAuthError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := newTestAdapter(t, handler).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, backend.IsAuthError(err))
}

func TestUploadCreatePostsTask(t *testing.T) {
	due := time.Date(2026, 6, 15, 17, 30, 0, 0, time.Local).Unix()
	var got task
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tasks/v1/lists/list-1/tasks", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(task{ID: "new-id", Etag: "e-new"})
	})

	item := model.Item{ID: 3, Title: "shop", Info: "eggs", Due: due}
	res, err := newTestAdapter(t, handler).Upload(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, "new-id", res.ID)
	assert.Equal(t, "e-new", res.Etag)
	assert.Equal(t, "shop", got.Title)
	assert.Equal(t, "needsAction", got.Status)
	// The local calendar date is serialized as a date-only RFC 3339 form.
	wantDue := time.Unix(due, 0).Format("2006-01-02") + "T00:00:00.000Z"
	assert.Equal(t, wantDue, got.Due)
}

func TestUploadUpdatePatchesTask(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/tasks/v1/lists/list-1/tasks/t9", r.URL.Path)
		json.NewEncoder(w).Encode(task{ID: "t9", Etag: "e2"})
	})

	item := model.Item{ID: 9, Title: "update", Done: true}
	item.Google = model.SyncRef{ID: model.ConfirmedID("t9"), SyncedAt: 1}

	res, err := newTestAdapter(t, handler).Upload(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "t9", res.ID)
	assert.Equal(t, "e2", res.Etag)
}

func TestDeleteTreats404AsGone(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	ref := model.SyncRef{ID: model.ConfirmedID("missing")}
	gone, err := newTestAdapter(t, handler).Delete(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, gone)
}

func TestDiscoverCollections(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/v1/users/@me/lists", r.URL.Path)
		json.NewEncoder(w).Encode(taskListPage{
			Items: []taskList{
				{ID: "l1", Title: "\U0001F6D2 Groceries"},
				{ID: "l2", Title: "Work"},
			},
		})
	})

	opts, err := newTestAdapter(t, handler).DiscoverCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "Groceries", opts[0].Label)
	assert.True(t, opts[0].SupportsTodo)
	assert.Equal(t, "Work", opts[1].Label)
}

func TestParseDueReadsDateAsLocalMidnight(t *testing.T) {
	got := parseDue("2026-03-05T00:00:00.000Z")
	want := time.Date(2026, 3, 5, 0, 0, 0, 0, time.Local).Unix()
	assert.Equal(t, want, got)

	got = parseDue("2026-03-05T00:00:00Z")
	assert.Equal(t, want, got)

	// A non-midnight timestamp is taken verbatim.
	exact := parseDue("2026-03-05T09:30:00Z")
	assert.Equal(t, time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC).Unix(), exact)

	assert.Zero(t, parseDue(""))
}

func TestSanitizeListTitle(t *testing.T) {
	assert.Equal(t, "Shopping", sanitizeListTitle("\U0001F6D2️  Shopping"))
	assert.Equal(t, "Plain", sanitizeListTitle("Plain"))
	assert.Equal(t, "a b", sanitizeListTitle("  a ✅ b  "))
}
