// Package caldav syncs against a CalDAV calendar holding VTODO
// components. Tested against Nextcloud, Radicale and iCloud.
package caldav

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
)

const transportedFields = backend.FieldTitle | backend.FieldInfo |
	backend.FieldDone | backend.FieldDoneAt | backend.FieldDue | backend.FieldPriority

// Adapter implements backend.Adapter over a CalDAV server with basic
// authentication.
type Adapter struct {
	cfg    model.CalDAVConfig
	client *client
	now    func() int64
}

// New builds a CalDAV adapter from the backend configuration.
func New(cfg model.CalDAVConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: newClient(cfg.ServerURL, cfg.Username, cfg.Password, 30*time.Second),
		now:    func() int64 { return time.Now().Unix() },
	}
}

func (a *Adapter) Type() model.Backend { return model.BackendCalDAV }

// calendarURL resolves the configured calendar path against the server
// URL.
func (a *Adapter) calendarURL() string {
	return resolveURL(strings.TrimRight(a.cfg.ServerURL, "/")+"/", a.cfg.CalendarPath)
}

// multistatus mirrors the WebDAV 207 response shape, covering both
// calendar-query results and discovery PROPFINDs.
type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string        `xml:"href"`
	Propstat []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Status string  `xml:"status"`
	Prop   davProp `xml:"prop"`
}

type davProp struct {
	Etag         string  `xml:"getetag"`
	CalendarData string  `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	DisplayName  string  `xml:"displayname"`
	ResourceType davType `xml:"resourcetype"`

	Principal    *davHref    `xml:"current-user-principal"`
	CalendarHome *davHref    `xml:"urn:ietf:params:xml:ns:caldav calendar-home-set"`
	Components   *davCompSet `xml:"urn:ietf:params:xml:ns:caldav supported-calendar-component-set"`
}

type davType struct {
	Calendar *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
}

type davHref struct {
	Href string `xml:"DAV: href"`
}

type davCompSet struct {
	Comps []davComp `xml:"urn:ietf:params:xml:ns:caldav comp"`
}

type davComp struct {
	Name string `xml:"name,attr"`
}

func parseMultistatus(body []byte) (*multistatus, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("parsing multistatus response: %w", err)
	}
	return &ms, nil
}

// TestConnection issues a minimal PROPFIND against the server root.
func (a *Adapter) TestConnection(ctx context.Context) (string, error) {
	const propfind = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:prop><d:current-user-principal/></d:prop></d:propfind>`

	res, err := a.client.do(ctx, "PROPFIND", strings.TrimRight(a.cfg.ServerURL, "/")+"/", map[string]string{
		"Depth":        "0",
		"Content-Type": "application/xml; charset=utf-8",
	}, propfind)
	if err != nil {
		return "", err
	}

	switch res.Status {
	case http.StatusMultiStatus, http.StatusOK:
		return fmt.Sprintf("connected to %s", res.URL), nil
	case http.StatusUnauthorized:
		return "", &backend.AuthError{Backend: model.BackendCalDAV, Message: "authentication failed"}
	}
	return "", fmt.Errorf("caldav server returned HTTP %d", res.Status)
}

// Fetch runs a calendar-query REPORT filtered to VTODO components and
// translates each hit.
func (a *Adapter) Fetch(ctx context.Context) ([]backend.RemoteItem, error) {
	const query = `<?xml version="1.0" encoding="utf-8"?>` +
		`<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">` +
		`<d:prop><d:getetag/><c:calendar-data/></d:prop>` +
		`<c:filter><c:comp-filter name="VCALENDAR"><c:comp-filter name="VTODO"/></c:comp-filter></c:filter>` +
		`</c:calendar-query>`

	res, err := a.client.do(ctx, "REPORT", a.calendarURL(), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml; charset=utf-8",
	}, query)
	if err != nil {
		return nil, err
	}
	if res.Status == http.StatusUnauthorized {
		return nil, &backend.AuthError{Backend: model.BackendCalDAV, Message: "authentication failed"}
	}
	if res.Status != http.StatusMultiStatus {
		return nil, fmt.Errorf("calendar-query returned HTTP %d", res.Status)
	}

	ms, err := parseMultistatus(res.Body)
	if err != nil {
		return nil, err
	}

	var items []backend.RemoteItem
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if ps.Prop.CalendarData == "" {
				continue
			}
			todo, ok := parseVTodo(ps.Prop.CalendarData)
			if !ok {
				continue
			}
			items = append(items, backend.RemoteItem{
				ID:             todo.UID,
				Etag:           strings.Trim(ps.Prop.Etag, `"`),
				Locator:        r.Href,
				Modified:       todo.LastModified,
				ChangeByEtag:   true,
				Fields:         transportedFields,
				DueGranularity: backend.DueExact,
				Title:          todo.Summary,
				Info:           todo.Description,
				Done:           todo.Done,
				DoneAt:         todo.CompletedAt,
				Due:            todo.Due,
				CreatedAt:      todo.CreatedAt,
				Priority:       todo.Priority,
			})
		}
	}
	return items, nil
}

// Upload PUTs the item's VTODO. Items that never round-tripped get a
// freshly generated UID; updates carry If-Match so a concurrent server
// edit fails the PUT instead of being overwritten.
func (a *Adapter) Upload(ctx context.Context, item model.Item) (backend.UploadResult, error) {
	ref := item.Ref(model.BackendCalDAV)

	uid := ref.ID.Server()
	if uid == "" {
		uid = fmt.Sprintf("todosync-%d-%s", item.ID, uuid.NewString())
	}

	itemURL := a.itemURL(uid, ref.Locator)
	headers := map[string]string{"Content-Type": "text/calendar; charset=utf-8"}
	if ref.Etag != "" {
		headers["If-Match"] = `"` + ref.Etag + `"`
	}

	forICloud := strings.Contains(strings.ToLower(a.cfg.ServerURL), "icloud.com")
	body := buildVTodo(uid, item, a.now(), forICloud)

	res, err := a.client.do(ctx, http.MethodPut, itemURL, headers, body)
	if err != nil {
		return backend.UploadResult{}, err
	}
	if res.Status == http.StatusUnauthorized {
		return backend.UploadResult{}, &backend.AuthError{Backend: model.BackendCalDAV, Message: "authentication failed"}
	}
	if res.Status < 200 || res.Status >= 300 {
		return backend.UploadResult{}, fmt.Errorf("uploading %q: HTTP %d", item.Title, res.Status)
	}

	locator := ref.Locator
	if locator == "" {
		if u, err := url.Parse(itemURL); err == nil {
			locator = u.Path
		}
	}
	return backend.UploadResult{
		ID:      uid,
		Etag:    strings.Trim(res.Header.Get("Etag"), `"`),
		Locator: locator,
	}, nil
}

// Delete removes the VTODO resource. A 404 counts as confirmed since
// the goal state is reached.
func (a *Adapter) Delete(ctx context.Context, ref model.SyncRef) (bool, error) {
	uid := ref.ID.Server()
	if uid == "" {
		return true, nil
	}

	res, err := a.client.do(ctx, http.MethodDelete, a.itemURL(uid, ref.Locator), nil, "")
	if err != nil {
		return false, err
	}
	if res.Status == http.StatusUnauthorized {
		return false, &backend.AuthError{Backend: model.BackendCalDAV, Message: "authentication failed"}
	}
	if res.Status == http.StatusNotFound {
		return true, nil
	}
	return res.Status >= 200 && res.Status < 300, nil
}

func (a *Adapter) itemURL(uid, locator string) string {
	if locator != "" {
		return resolveURL(a.calendarURL(), locator)
	}
	return strings.TrimRight(a.calendarURL(), "/") + "/" + url.PathEscape(uid) + ".ics"
}

// DiscoverCollections walks the standard discovery chain: the principal
// from the server root, its calendar home, then every calendar below it
// with its supported component set. Calendars that accept VTODO sort
// first.
func (a *Adapter) DiscoverCollections(ctx context.Context) ([]model.RemoteOption, error) {
	principal, err := a.findPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	home, err := a.findCalendarHome(ctx, principal)
	if err != nil {
		return nil, err
	}
	return a.listCalendars(ctx, home)
}

func (a *Adapter) findPrincipal(ctx context.Context) (string, error) {
	const propfind = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:prop><d:current-user-principal/></d:prop></d:propfind>`

	ms, err := a.propfind(ctx, strings.TrimRight(a.cfg.ServerURL, "/")+"/", "0", propfind)
	if err != nil {
		return "", fmt.Errorf("discovering principal: %w", err)
	}
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if ps.Prop.Principal != nil && ps.Prop.Principal.Href != "" {
				return ps.Prop.Principal.Href, nil
			}
		}
	}
	return "", fmt.Errorf("discovering principal: no current-user-principal in response")
}

func (a *Adapter) findCalendarHome(ctx context.Context, principal string) (string, error) {
	const propfind = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:prop><c:calendar-home-set/></d:prop></d:propfind>`

	ms, err := a.propfind(ctx, resolveURL(a.cfg.ServerURL, principal), "0", propfind)
	if err != nil {
		return "", fmt.Errorf("discovering calendar home: %w", err)
	}
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if ps.Prop.CalendarHome != nil && ps.Prop.CalendarHome.Href != "" {
				return ps.Prop.CalendarHome.Href, nil
			}
		}
	}
	return "", fmt.Errorf("discovering calendar home: no calendar-home-set in response")
}

func (a *Adapter) listCalendars(ctx context.Context, home string) ([]model.RemoteOption, error) {
	const propfind = `<?xml version="1.0" encoding="utf-8"?>` +
		`<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">` +
		`<d:prop><d:displayname/><d:resourcetype/><c:supported-calendar-component-set/></d:prop>` +
		`</d:propfind>`

	ms, err := a.propfind(ctx, resolveURL(a.cfg.ServerURL, home), "1", propfind)
	if err != nil {
		return nil, fmt.Errorf("listing calendars: %w", err)
	}

	var opts []model.RemoteOption
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if ps.Prop.ResourceType.Calendar == nil {
				continue
			}

			supportsTodo := false
			if ps.Prop.Components != nil {
				for _, c := range ps.Prop.Components.Comps {
					if strings.EqualFold(c.Name, "VTODO") {
						supportsTodo = true
						break
					}
				}
			}

			path := a.relativePath(r.Href)
			label := ps.Prop.DisplayName
			if label == "" {
				label = path
			}
			opts = append(opts, model.RemoteOption{
				Backend:      model.BackendCalDAV,
				Value:        path,
				Label:        label,
				SupportsTodo: supportsTodo,
			})
		}
	}

	sort.SliceStable(opts, func(i, j int) bool {
		if opts[i].SupportsTodo != opts[j].SupportsTodo {
			return opts[i].SupportsTodo
		}
		return strings.ToLower(opts[i].Label) < strings.ToLower(opts[j].Label)
	})
	return opts, nil
}

func (a *Adapter) propfind(ctx context.Context, url, depth, body string) (*multistatus, error) {
	res, err := a.client.do(ctx, "PROPFIND", url, map[string]string{
		"Depth":        depth,
		"Content-Type": "application/xml; charset=utf-8",
	}, body)
	if err != nil {
		return nil, err
	}
	if res.Status == http.StatusUnauthorized {
		return nil, &backend.AuthError{Backend: model.BackendCalDAV, Message: "authentication failed"}
	}
	if res.Status != http.StatusMultiStatus && res.Status != http.StatusOK {
		return nil, fmt.Errorf("PROPFIND %s returned HTTP %d", url, res.Status)
	}
	return parseMultistatus(res.Body)
}

// relativePath strips the server base path from an href so the stored
// calendar path stays valid when the server URL already carries a path
// prefix.
func (a *Adapter) relativePath(href string) string {
	path := href
	if strings.Contains(href, "://") {
		if u, err := url.Parse(href); err == nil {
			path = u.Path
		}
	}
	if base, err := url.Parse(a.cfg.ServerURL); err == nil {
		if bp := strings.TrimRight(base.Path, "/"); bp != "" && strings.HasPrefix(path, bp) {
			path = path[len(bp):]
		}
	}
	return strings.TrimLeft(path, "/")
}
