// Package microsoft syncs against the Microsoft To-Do tasks in
// Microsoft Graph.
//
// Graph transports the richest remote schema of the three backends:
// besides title, body, status and due it carries importance, a reminder
// (mapped to the notification lead time) and a recurrence pattern. Due
// timestamps come back in the server's preferred zone; when the server
// degraded the time to midnight UTC the merge keeps the local time of
// day.
package microsoft

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/recur"
)

const transportedFields = backend.FieldTitle | backend.FieldInfo |
	backend.FieldDone | backend.FieldDoneAt | backend.FieldDue |
	backend.FieldPriority | backend.FieldNotification | backend.FieldRecurrence

// graphDateTime is Graph's dateTimeTimeZone shape.
type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphPattern struct {
	Type           string   `json:"type"`
	Interval       int      `json:"interval"`
	DaysOfWeek     []string `json:"daysOfWeek,omitempty"`
	FirstDayOfWeek string   `json:"firstDayOfWeek,omitempty"`
	DayOfMonth     int      `json:"dayOfMonth,omitempty"`
	Month          int      `json:"month,omitempty"`
}

type graphRange struct {
	Type               string `json:"type"`
	StartDate          string `json:"startDate"`
	RecurrenceTimeZone string `json:"recurrenceTimeZone,omitempty"`
}

type graphRecurrence struct {
	Pattern graphPattern `json:"pattern"`
	Range   graphRange   `json:"range"`
}

// graphTask is the todoTask resource subset the adapter reads.
type graphTask struct {
	ID           string           `json:"id"`
	Etag         string           `json:"@odata.etag"`
	Title        string           `json:"title"`
	Body         *graphBody       `json:"body"`
	Status       string           `json:"status"`
	Importance   string           `json:"importance"`
	IsReminderOn bool             `json:"isReminderOn"`
	Due          *graphDateTime   `json:"dueDateTime"`
	Completed    *graphDateTime   `json:"completedDateTime"`
	Reminder     *graphDateTime   `json:"reminderDateTime"`
	Recurrence   *graphRecurrence `json:"recurrence"`
	LastModified string           `json:"lastModifiedDateTime"`
}

type taskPage struct {
	Value    []graphTask `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type todoList struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type listPage struct {
	Value    []todoList `json:"value"`
	NextLink string     `json:"@odata.nextLink"`
}

// Adapter implements backend.Adapter over Microsoft Graph To-Do.
type Adapter struct {
	cfg    model.MicrosoftConfig
	client *client
	// defaultLead seeds the lead time when a reminder has no usable
	// offset.
	defaultLead int
}

// TokenSource yields a valid bearer token per request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// New builds a Microsoft To-Do adapter.
func New(cfg model.MicrosoftConfig, tokens TokenSource, defaultLead int) *Adapter {
	return &Adapter{
		cfg:         cfg,
		client:      newClient(tokens),
		defaultLead: recur.NormalizeNotifyLeadTimeDefault(defaultLead),
	}
}

func (a *Adapter) Type() model.Backend { return model.BackendMicrosoft }

func (a *Adapter) listPath() string {
	return "/me/todo/lists/" + url.PathEscape(a.cfg.ListID)
}

// TestConnection lists the user's to-do lists to verify the token.
func (a *Adapter) TestConnection(ctx context.Context) (string, error) {
	var page listPage
	if err := a.client.get(ctx, "/me/todo/lists?$top=100", &page); err != nil {
		return "", err
	}
	return fmt.Sprintf("connected, %d list(s) visible", len(page.Value)), nil
}

// Fetch pages through the configured list following @odata.nextLink.
func (a *Adapter) Fetch(ctx context.Context) ([]backend.RemoteItem, error) {
	if a.cfg.ListID == "" {
		return nil, fmt.Errorf("microsoft todo: no list configured")
	}

	var items []backend.RemoteItem
	path := a.listPath() + "/tasks?$top=100"
	for path != "" {
		var page taskPage
		if err := a.client.get(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, t := range page.Value {
			if t.ID == "" {
				continue
			}
			items = append(items, a.taskToRemote(t))
		}
		path = relativePath(page.NextLink)
	}
	return items, nil
}

func (a *Adapter) taskToRemote(t graphTask) backend.RemoteItem {
	done := strings.EqualFold(t.Status, "completed")
	due := parseGraphDateTime(t.Due)

	r := backend.RemoteItem{
		ID:                   t.ID,
		Etag:                 t.Etag,
		Modified:             parseRFC3339(t.LastModified),
		Fields:               transportedFields,
		DueGranularity:       backend.DueServerTime,
		Title:                t.Title,
		Done:                 done,
		Due:                  due,
		Priority:             importanceToPriority(t.Importance),
		NotificationLeadTime: a.defaultLead,
	}
	if t.Body != nil {
		r.Info = t.Body.Content
	}
	if done && t.Completed != nil {
		r.DoneAt = parseGraphDateTime(t.Completed)
	}

	if due > 0 && t.IsReminderOn {
		if remTs := parseGraphDateTime(t.Reminder); remTs > 0 && remTs <= due {
			r.Notification = true
			r.NotificationLeadTime = nearestLeadTime(int(due-remTs), a.defaultLead)
		}
	}

	rec, unit, value := parseRecurrence(t.Recurrence, due)
	r.Recurrence = rec
	r.RecurrenceCustomUnit = unit
	r.RecurrenceCustomValue = value

	return r
}

// localToTask renders the PATCH/POST body. Updates clear due, reminder
// and recurrence with explicit nulls; omitting the keys would leave
// stale values on the server.
func (a *Adapter) localToTask(it model.Item, update bool) map[string]any {
	task := map[string]any{
		"title":      it.Title,
		"body":       graphBody{ContentType: "text", Content: it.Info},
		"importance": string(model.NormalizePriority(string(it.Priority))),
		"status":     "notStarted",
	}
	if it.Done {
		task["status"] = "completed"
	}

	if it.Due <= 0 {
		task["isReminderOn"] = false
		if update {
			task["dueDateTime"] = nil
			task["recurrence"] = nil
			task["reminderDateTime"] = nil
		}
		return task
	}

	task["dueDateTime"] = buildGraphDateTime(it.Due)

	if it.Notification {
		lead := recur.NormalizeNotifyLeadTime(it.NotificationLeadTime, a.defaultLead)
		remTs := it.Due - int64(lead)
		task["isReminderOn"] = true
		if remTs > 0 {
			task["reminderDateTime"] = buildGraphDateTime(remTs)
		}
	} else {
		task["isReminderOn"] = false
		if update {
			task["reminderDateTime"] = nil
		}
	}

	if rec := buildRecurrence(it); rec != nil {
		task["recurrence"] = rec
	} else if update {
		task["recurrence"] = nil
	}

	return task
}

// Upload POSTs new tasks and PATCHes existing ones.
func (a *Adapter) Upload(ctx context.Context, item model.Item) (backend.UploadResult, error) {
	ref := item.Ref(model.BackendMicrosoft)

	var created graphTask
	if !ref.Confirmed() {
		if err := a.client.post(ctx, a.listPath()+"/tasks", a.localToTask(item, false), &created); err != nil {
			return backend.UploadResult{}, fmt.Errorf("creating task %q: %w", item.Title, err)
		}
	} else {
		path := a.listPath() + "/tasks/" + url.PathEscape(ref.ID.Server())
		if err := a.client.patch(ctx, path, a.localToTask(item, true), &created); err != nil {
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
	return a.client.delete(ctx, a.listPath()+"/tasks/"+url.PathEscape(id))
}

// DiscoverCollections lists the user's to-do lists.
func (a *Adapter) DiscoverCollections(ctx context.Context) ([]model.RemoteOption, error) {
	var opts []model.RemoteOption
	path := "/me/todo/lists?$top=100"
	for path != "" {
		var page listPage
		if err := a.client.get(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, l := range page.Value {
			if l.ID == "" {
				continue
			}
			opts = append(opts, model.RemoteOption{
				Backend:      model.BackendMicrosoft,
				Value:        l.ID,
				Label:        l.DisplayName,
				SupportsTodo: true,
			})
		}
		path = relativePath(page.NextLink)
	}
	return opts, nil
}

func buildGraphDateTime(ts int64) graphDateTime {
	tz := localWindowsZone()
	t := time.Unix(ts, 0)
	if tz == "UTC" {
		t = t.UTC()
	}
	return graphDateTime{
		DateTime: t.Format("2006-01-02T15:04:05"),
		TimeZone: tz,
	}
}

func parseGraphDateTime(v *graphDateTime) int64 {
	if v == nil || v.DateTime == "" {
		return 0
	}
	loc := resolveZone(v.TimeZone)
	// Graph pads fractional seconds; strip them.
	raw, _, _ := strings.Cut(v.DateTime, ".")
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc); err == nil {
		return t.Unix()
	}
	return 0
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

func importanceToPriority(importance string) model.Priority {
	return model.NormalizePriority(importance)
}

// nearestLeadTime projects a reminder offset onto the closest allowed
// notification lead time.
func nearestLeadTime(seconds, def int) int {
	if seconds < 0 {
		seconds = 0
	}
	best := def
	bestDiff := -1
	for _, v := range recur.NotifyLeadTimes {
		diff := v - seconds
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best = v
			bestDiff = diff
		}
	}
	return best
}

func weekdayName(ts int64) string {
	return strings.ToLower(time.Unix(ts, 0).Weekday().String())
}

// buildRecurrence renders the Graph recurrence pattern for a recurring
// item, or nil when the item does not recur. Hourly custom recurrence
// has no Graph equivalent and is kept local-only.
func buildRecurrence(it model.Item) *graphRecurrence {
	if it.Due <= 0 {
		return nil
	}
	rec := recur.Normalize(string(it.Recurrence), it.Due)
	if rec == model.RecurNone {
		return nil
	}

	due := time.Unix(it.Due, 0)
	rng := graphRange{
		Type:               "noEnd",
		StartDate:          due.Format("2006-01-02"),
		RecurrenceTimeZone: localWindowsZone(),
	}

	var pattern graphPattern
	switch rec {
	case model.RecurWeekly, model.RecurBiweekly, model.RecurTriweekly:
		interval := map[model.Recurrence]int{
			model.RecurWeekly:    1,
			model.RecurBiweekly:  2,
			model.RecurTriweekly: 3,
		}[rec]
		pattern = graphPattern{
			Type:           "weekly",
			Interval:       interval,
			DaysOfWeek:     []string{weekdayName(it.Due)},
			FirstDayOfWeek: "monday",
		}
	case model.RecurMonthly, model.RecurQuarterly:
		interval := 1
		if rec == model.RecurQuarterly {
			interval = 3
		}
		pattern = graphPattern{
			Type:       "absoluteMonthly",
			Interval:   interval,
			DayOfMonth: due.Day(),
		}
	case model.RecurYearly:
		pattern = graphPattern{
			Type:       "absoluteYearly",
			Interval:   1,
			Month:      int(due.Month()),
			DayOfMonth: due.Day(),
		}
	case model.RecurCustom:
		unit := recur.NormalizeUnit(string(it.RecurrenceCustomUnit))
		value := recur.NormalizeCustomValue(it.RecurrenceCustomValue)
		switch unit {
		case model.UnitDay:
			pattern = graphPattern{Type: "daily", Interval: value}
		case model.UnitWeek:
			pattern = graphPattern{
				Type:           "weekly",
				Interval:       value,
				DaysOfWeek:     []string{weekdayName(it.Due)},
				FirstDayOfWeek: "monday",
			}
		case model.UnitMonth:
			pattern = graphPattern{
				Type:       "absoluteMonthly",
				Interval:   value,
				DayOfMonth: due.Day(),
			}
		case model.UnitYear:
			pattern = graphPattern{
				Type:       "absoluteYearly",
				Interval:   value,
				Month:      int(due.Month()),
				DayOfMonth: due.Day(),
			}
		default:
			return nil
		}
	}

	if pattern.Type == "" {
		return nil
	}
	return &graphRecurrence{Pattern: pattern, Range: rng}
}

// parseRecurrence maps a Graph pattern back onto the local enum,
// folding exact matches onto the fixed variants and everything else
// onto custom.
func parseRecurrence(rec *graphRecurrence, due int64) (model.Recurrence, model.RecurrenceUnit, int) {
	if due <= 0 || rec == nil {
		return model.RecurNone, model.UnitWeek, 1
	}

	interval := rec.Pattern.Interval
	if interval < 1 {
		interval = 1
	}

	switch strings.ToLower(rec.Pattern.Type) {
	case "weekly":
		switch interval {
		case 1:
			return model.RecurWeekly, model.UnitWeek, 1
		case 2:
			return model.RecurBiweekly, model.UnitWeek, 1
		case 3:
			return model.RecurTriweekly, model.UnitWeek, 1
		}
		return model.RecurCustom, model.UnitWeek, interval
	case "daily":
		return model.RecurCustom, model.UnitDay, interval
	case "absolutemonthly":
		switch interval {
		case 1:
			return model.RecurMonthly, model.UnitWeek, 1
		case 3:
			return model.RecurQuarterly, model.UnitWeek, 1
		}
		return model.RecurCustom, model.UnitMonth, interval
	case "absoluteyearly":
		if interval == 1 {
			return model.RecurYearly, model.UnitWeek, 1
		}
		return model.RecurCustom, model.UnitYear, interval
	}
	return model.RecurNone, model.UnitWeek, 1
}
