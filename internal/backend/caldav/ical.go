package caldav

import (
	"strings"
	"time"

	"github.com/da8ter/todosync/internal/model"
)

// vtodo is the subset of VTODO properties the adapter transports.
type vtodo struct {
	UID          string
	Summary      string
	Description  string
	Done         bool
	CompletedAt  int64
	Due          int64
	Priority     model.Priority
	CreatedAt    int64
	LastModified int64
}

// parseVTodo extracts the VTODO component from an iCalendar payload.
// Folded lines (continuation lines starting with space or tab) are
// unfolded first. Returns false when the payload carries no VTODO or the
// VTODO has no UID.
func parseVTodo(data string) (vtodo, bool) {
	var lines []string
	for _, raw := range strings.Split(data, "\n") {
		raw = strings.TrimSuffix(raw, "\r")
		if raw != "" && (raw[0] == ' ' || raw[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += raw[1:]
			continue
		}
		lines = append(lines, raw)
	}

	inTodo := false
	props := make(map[string]string)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch line {
		case "BEGIN:VTODO":
			inTodo = true
			continue
		case "END:VTODO":
			inTodo = false
			continue
		}
		if !inTodo {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// Parameters (DUE;TZID=... etc.) are stripped; values are
		// normalized to UTC forms by the servers we talk to.
		key, _, _ = strings.Cut(key, ";")
		props[strings.ToUpper(key)] = value
	}

	if props["UID"] == "" {
		return vtodo{}, false
	}

	done := props["STATUS"] == "COMPLETED"
	t := vtodo{
		UID:          props["UID"],
		Summary:      unescapeText(props["SUMMARY"]),
		Description:  unescapeText(props["DESCRIPTION"]),
		Done:         done,
		Due:          parseDateTime(props["DUE"]),
		Priority:     priorityFromICal(props["PRIORITY"]),
		CreatedAt:    parseDateTime(props["CREATED"]),
		LastModified: parseDateTime(props["LAST-MODIFIED"]),
	}
	if done {
		t.CompletedAt = parseDateTime(props["COMPLETED"])
	}
	return t, true
}

// buildVTodo renders a complete VCALENDAR wrapping one VTODO.
// iCloud requires METHOD:PUBLISH on PUT payloads.
func buildVTodo(uid string, it model.Item, now int64, forICloud bool) string {
	nowStamp := formatDateTime(now)
	created := nowStamp
	if it.CreatedAt > 0 {
		created = formatDateTime(it.CreatedAt)
	}

	status := "NEEDS-ACTION"
	percent := "0"
	if it.Done {
		status = "COMPLETED"
		percent = "100"
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//todosync//todosync//EN",
		"CALSCALE:GREGORIAN",
	}
	if forICloud {
		lines = append(lines, "METHOD:PUBLISH")
	}
	lines = append(lines,
		"BEGIN:VTODO",
		"UID:"+uid,
		"DTSTAMP:"+nowStamp,
		"CREATED:"+created,
		"LAST-MODIFIED:"+nowStamp,
		"SEQUENCE:0",
		"SUMMARY:"+escapeText(it.Title),
		"STATUS:"+status,
		"PERCENT-COMPLETE:"+percent,
	)

	if p := priorityToICal(it.Priority); p != "" {
		lines = append(lines, "PRIORITY:"+p)
	}
	if it.Info != "" {
		lines = append(lines, "DESCRIPTION:"+escapeText(it.Info))
	}
	if it.Due > 0 {
		lines = append(lines, "DUE:"+formatDateTime(it.Due))
	}
	if it.Done && it.DoneAt > 0 {
		lines = append(lines, "COMPLETED:"+formatDateTime(it.DoneAt))
	}

	lines = append(lines, "END:VTODO", "END:VCALENDAR")
	return strings.Join(lines, "\r\n")
}

// priorityFromICal buckets RFC 5545 priorities: 1..4 high, 6..9 low,
// everything else normal.
func priorityFromICal(raw string) model.Priority {
	v := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			v = 0
			break
		}
		v = v*10 + int(c-'0')
	}
	switch {
	case v >= 1 && v <= 4:
		return model.PriorityHigh
	case v >= 6 && v <= 9:
		return model.PriorityLow
	}
	return model.PriorityNormal
}

// priorityToICal returns "" for normal priority so the property is
// omitted entirely.
func priorityToICal(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "1"
	case model.PriorityLow:
		return "9"
	}
	return ""
}

const (
	layoutUTC   = "20060102T150405Z"
	layoutLocal = "20060102T150405"
	layoutDate  = "20060102"
)

// parseDateTime parses the three iCalendar date forms, all interpreted
// as UTC. Stray separator characters some servers emit are stripped.
func parseDateTime(raw string) int64 {
	if raw == "" {
		return 0
	}
	var b strings.Builder
	for _, c := range raw {
		if (c >= '0' && c <= '9') || c == 'T' || c == 'Z' {
			b.WriteRune(c)
		}
	}
	cleaned := b.String()

	for _, layout := range []string{layoutUTC, layoutLocal, layoutDate} {
		if t, err := time.ParseInLocation(layout, cleaned, time.UTC); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func formatDateTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(layoutUTC)
}

var textEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r\n", "\\n",
	"\n", "\\n",
	"\r", "\\n",
	",", "\\,",
	";", "\\;",
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// unescapeText reverses RFC 5545 text escaping. It runs left to right so
// "\\\\n" decodes to a backslash followed by "n", not a newline.
func unescapeText(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
