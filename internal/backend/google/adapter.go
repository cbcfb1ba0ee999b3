// Package google syncs against the Google Tasks API v1.
//
// Google Tasks stores due dates with date precision only; the time of
// day written in the RFC 3339 due field is discarded by the server. The
// adapter therefore reports date-only granularity so merges keep the
// local time of day.
package google

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
)

const transportedFields = backend.FieldTitle | backend.FieldInfo |
	backend.FieldDone | backend.FieldDoneAt | backend.FieldDue

// task is the Google Tasks resource shape used by the adapter.
type task struct {
	ID        string `json:"id,omitempty"`
	Etag      string `json:"etag,omitempty"`
	Title     string `json:"title"`
	Notes     string `json:"notes"`
	Status    string `json:"status"`
	Due       string `json:"due,omitempty"`
	Completed string `json:"completed,omitempty"`
	Updated   string `json:"updated,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

type taskPage struct {
	Items         []task `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

type taskList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type taskListPage struct {
	Items         []taskList `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

// Adapter implements backend.Adapter over the Google Tasks API.
type Adapter struct {
	cfg    model.GoogleConfig
	client *client
}

// TokenSource yields a valid bearer token per request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// New builds a Google Tasks adapter.
func New(cfg model.GoogleConfig, tokens TokenSource) *Adapter {
	return &Adapter{cfg: cfg, client: newClient(tokens)}
}

func (a *Adapter) Type() model.Backend { return model.BackendGoogle }

func (a *Adapter) listPath() string {
	return "/tasks/v1/lists/" + url.PathEscape(a.cfg.TaskListID)
}

// TestConnection lists the user's task lists to verify the token.
func (a *Adapter) TestConnection(ctx context.Context) (string, error) {
	var page taskListPage
	if err := a.client.get(ctx, "/tasks/v1/users/@me/lists?maxResults=100", &page); err != nil {
		return "", err
	}
	return fmt.Sprintf("connected, %d task list(s) visible", len(page.Items)), nil
}

// Fetch pages through the configured task list. Completed and hidden
// tasks are requested so done states round-trip; tombstoned tasks are
// skipped.
func (a *Adapter) Fetch(ctx context.Context) ([]backend.RemoteItem, error) {
	if a.cfg.TaskListID == "" {
		return nil, fmt.Errorf("google tasks: no task list configured")
	}

	var items []backend.RemoteItem
	pageToken := ""
	for {
		endpoint := a.listPath() + "/tasks?showCompleted=true&showHidden=true&showDeleted=true&maxResults=100"
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var page taskPage
		if err := a.client.get(ctx, endpoint, &page); err != nil {
			return nil, err
		}

		for _, t := range page.Items {
			if t.Deleted || t.ID == "" {
				continue
			}
			items = append(items, taskToRemote(t))
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return items, nil
}

func taskToRemote(t task) backend.RemoteItem {
	done := t.Status == "completed"
	r := backend.RemoteItem{
		ID:             t.ID,
		Etag:           t.Etag,
		Modified:       parseRFC3339(t.Updated),
		Fields:         transportedFields,
		DueGranularity: backend.DueDateOnly,
		Title:          t.Title,
		Info:           t.Notes,
		Done:           done,
		Due:            parseDue(t.Due),
	}
	if done {
		r.DoneAt = parseRFC3339(t.Completed)
	}
	return r
}

// parseDue interprets the API's date-only form (midnight UTC) as local
// midnight, matching how the due is serialized on upload. Anything else
// is taken verbatim.
func parseDue(raw string) int64 {
	if raw == "" {
		return 0
	}
	if date, ok := strings.CutSuffix(raw, "T00:00:00.000Z"); ok {
		if t, err := time.ParseInLocation("2006-01-02", date, time.Local); err == nil {
			return t.Unix()
		}
	}
	if date, ok := strings.CutSuffix(raw, "T00:00:00Z"); ok {
		if t, err := time.ParseInLocation("2006-01-02", date, time.Local); err == nil {
			return t.Unix()
		}
	}
	return parseRFC3339(raw)
}

func parseRFC3339(raw string) int64 {
	if raw == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Unix()
	}
	return 0
}

func localToTask(it model.Item) task {
	t := task{
		Title:  it.Title,
		Notes:  it.Info,
		Status: "needsAction",
	}
	if it.Done {
		t.Status = "completed"
	}
	if it.Due > 0 {
		// The server keeps the date and discards the time, so the local
		// calendar date is what must survive.
		t.Due = time.Unix(it.Due, 0).Format("2006-01-02") + "T00:00:00.000Z"
	}
	return t
}

// Upload POSTs new tasks and PATCHes existing ones.
func (a *Adapter) Upload(ctx context.Context, item model.Item) (backend.UploadResult, error) {
	ref := item.Ref(model.BackendGoogle)
	body := localToTask(item)

	var created task
	if !ref.Confirmed() {
		if err := a.client.post(ctx, a.listPath()+"/tasks", body, &created); err != nil {
			return backend.UploadResult{}, fmt.Errorf("creating task %q: %w", item.Title, err)
		}
	} else {
		path := a.listPath() + "/tasks/" + url.PathEscape(ref.ID.Server())
		if err := a.client.patch(ctx, path, body, &created); err != nil {
			return backend.UploadResult{}, fmt.Errorf("updating task %q: %w", item.Title, err)
		}
	}

	if created.ID == "" {
		created.ID = ref.ID.Server()
	}
	return backend.UploadResult{ID: created.ID, Etag: created.Etag}, nil
}

// Delete removes the remote task; an already-deleted task confirms.
func (a *Adapter) Delete(ctx context.Context, ref model.SyncRef) (bool, error) {
	id := ref.ID.Server()
	if id == "" {
		return true, nil
	}
	gone, err := a.client.delete(ctx, a.listPath()+"/tasks/"+url.PathEscape(id))
	if err != nil {
		return false, err
	}
	return gone, nil
}

// DiscoverCollections lists the user's task lists.
func (a *Adapter) DiscoverCollections(ctx context.Context) ([]model.RemoteOption, error) {
	var opts []model.RemoteOption
	pageToken := ""
	for {
		endpoint := "/tasks/v1/users/@me/lists?maxResults=100"
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var page taskListPage
		if err := a.client.get(ctx, endpoint, &page); err != nil {
			return nil, err
		}
		for _, l := range page.Items {
			if l.ID == "" {
				continue
			}
			opts = append(opts, model.RemoteOption{
				Backend:      model.BackendGoogle,
				Value:        l.ID,
				Label:        sanitizeListTitle(l.Title),
				SupportsTodo: true,
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return opts, nil
}

// sanitizeListTitle strips emoji and variation selectors that some
// clients prepend to list names, then collapses whitespace.
func sanitizeListTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == 0xFE0F || r == 0x200D:
			continue
		case r >= 0x2600 && r <= 0x27BF:
			continue
		case r >= 0x1F000 && r <= 0x1FAFF:
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
