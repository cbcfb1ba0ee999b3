// Package recur implements the recurrence and lead-time normalization
// rules shared by the local CRUD operations, every provider adapter and
// the reconciliation engine. All functions are pure.
package recur

import (
	"strings"
	"time"

	"github.com/da8ter/todosync/internal/model"
)

// NotifyLeadTimes is the enumerated set of notification lead times in
// seconds. It intentionally differs from ReopenLeadTimes; the two option
// sets are distinct in the configuration surface.
var NotifyLeadTimes = []int{0, 300, 600, 1800, 3600, 18000, 43200}

// ReopenLeadTimes is the enumerated set of reopen windows in seconds for
// completed recurring items.
var ReopenLeadTimes = []int{1800, 3600, 21600, 43200, 86400, 172800, 259200, 604800, 1209600, 2592000}

// DefaultResetLeadTime is applied when a reopen window is absent or
// invalid on a recurring item.
const DefaultResetLeadTime = 604800

// Normalize validates a raw recurrence value against the due date.
// Items without a due date cannot recur.
func Normalize(raw string, due int64) model.Recurrence {
	if due <= 0 {
		return model.RecurNone
	}
	switch model.Recurrence(strings.ToLower(strings.TrimSpace(raw))) {
	case model.RecurCustom:
		return model.RecurCustom
	case model.RecurWeekly:
		return model.RecurWeekly
	case model.RecurBiweekly:
		return model.RecurBiweekly
	case model.RecurTriweekly:
		return model.RecurTriweekly
	case model.RecurMonthly:
		return model.RecurMonthly
	case model.RecurQuarterly:
		return model.RecurQuarterly
	case model.RecurYearly:
		return model.RecurYearly
	}
	return model.RecurNone
}

// NormalizeUnit validates a custom recurrence unit, defaulting to weeks.
func NormalizeUnit(raw string) model.RecurrenceUnit {
	switch model.RecurrenceUnit(strings.ToLower(strings.TrimSpace(raw))) {
	case model.UnitHour:
		return model.UnitHour
	case model.UnitDay:
		return model.UnitDay
	case model.UnitWeek:
		return model.UnitWeek
	case model.UnitMonth:
		return model.UnitMonth
	case model.UnitYear:
		return model.UnitYear
	}
	return model.UnitWeek
}

// NormalizeCustomValue clamps a custom recurrence interval to 1..1000.
func NormalizeCustomValue(v int) int {
	if v <= 0 {
		return 1
	}
	if v > 1000 {
		return 1000
	}
	return v
}

// NormalizeResetLeadTime validates a reopen window for the given
// recurrence. -1 (reopen immediately) and 0 (disabled) pass through;
// any other value must be in ReopenLeadTimes or falls back to the
// default. Non-recurring items always get 0.
func NormalizeResetLeadTime(v int, r model.Recurrence) int {
	if r == model.RecurNone {
		return 0
	}
	switch {
	case v == -1:
		return -1
	case v == 0:
		return 0
	case v < 0:
		return DefaultResetLeadTime
	}
	for _, a := range ReopenLeadTimes {
		if v == a {
			return v
		}
	}
	return DefaultResetLeadTime
}

// NormalizeNotifyLeadTimeDefault validates the configured default lead
// time, falling back to 10 minutes.
func NormalizeNotifyLeadTimeDefault(v int) int {
	if v < 0 {
		v = 0
	}
	for _, a := range NotifyLeadTimes {
		if v == a {
			return v
		}
	}
	return 600
}

// NormalizeNotifyLeadTime validates a per-item lead time against the
// enumerated set, falling back to def.
func NormalizeNotifyLeadTime(v, def int) int {
	if v < 0 {
		return def
	}
	for _, a := range NotifyLeadTimes {
		if v == a {
			return v
		}
	}
	return def
}

// NextDue computes the next due timestamp after one recurrence cycle.
// Weekly variants add exact multiples of a week; month- and year-based
// variants add calendar months with the day clamped to the end of the
// target month, preserving the time of day.
func NextDue(due int64, r model.Recurrence, unit model.RecurrenceUnit, value int) int64 {
	if due <= 0 {
		return 0
	}
	switch Normalize(string(r), due) {
	case model.RecurCustom:
		v := int64(NormalizeCustomValue(value))
		switch NormalizeUnit(string(unit)) {
		case model.UnitHour:
			return due + 3600*v
		case model.UnitDay:
			return due + 86400*v
		case model.UnitWeek:
			return due + 604800*v
		case model.UnitMonth:
			return addMonthsClamped(due, int(v))
		case model.UnitYear:
			return addMonthsClamped(due, 12*int(v))
		}
		return due
	case model.RecurWeekly:
		return due + 604800
	case model.RecurBiweekly:
		return due + 1209600
	case model.RecurTriweekly:
		return due + 1814400
	case model.RecurMonthly:
		return addMonthsClamped(due, 1)
	case model.RecurQuarterly:
		return addMonthsClamped(due, 3)
	case model.RecurYearly:
		return addMonthsClamped(due, 12)
	}
	return due
}

// addMonthsClamped adds calendar months in local time, clamping the day
// to the last day of the target month so Jan 31 + 1 month lands on
// Feb 28/29 instead of rolling over into March.
func addMonthsClamped(ts int64, months int) int64 {
	t := time.Unix(ts, 0)
	year, month, day := t.Date()

	m := int(month) + months
	year += (m - 1) / 12
	m = (m-1)%12 + 1

	if last := daysInMonth(year, time.Month(m)); day > last {
		day = last
	}

	return time.Date(year, time.Month(m), day, t.Hour(), t.Minute(), t.Second(), 0, t.Location()).Unix()
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IntervalSeconds returns the length of one recurrence cycle starting at
// due, or 0 for non-recurring items.
func IntervalSeconds(due int64, r model.Recurrence, unit model.RecurrenceUnit, value int) int64 {
	if due <= 0 {
		return 0
	}
	if Normalize(string(r), due) == model.RecurNone {
		return 0
	}
	delta := NextDue(due, r, unit, value) - due
	if delta <= 0 {
		return 0
	}
	return delta
}

// ClampLeadTimeToInterval keeps a reopen window strictly below one
// recurrence cycle: a lead time at or beyond the interval is replaced by
// the largest allowed value below it, or 0. -1 passes through.
func ClampLeadTimeToInterval(lead int, interval int64, allowed []int) int {
	if lead == -1 {
		return -1
	}
	if lead < 0 {
		lead = 0
	}
	if interval <= 0 || lead == 0 {
		return lead
	}
	if int64(lead) < interval {
		return lead
	}

	best := 0
	for _, v := range allowed {
		if int64(v) < interval && v > best {
			best = v
		}
	}
	return best
}

// LeadTimeLimitSeconds bounds a notification lead time by the remaining
// time to due and, for recurring items, by one recurrence cycle.
func LeadTimeLimitSeconds(due, now int64, r model.Recurrence, unit model.RecurrenceUnit, value int) int64 {
	if due <= 0 {
		return 0
	}
	limit := due - now
	if limit <= 0 {
		return 0
	}
	if interval := IntervalSeconds(due, r, unit, value); interval > 0 && interval < limit {
		limit = interval
	}
	return limit
}

// ClampLeadTimeToLimit keeps a notification lead time strictly below the
// limit, projecting onto the largest allowed non-zero value below it.
func ClampLeadTimeToLimit(lead int, limit int64, allowed []int) int {
	if lead < 0 {
		lead = 0
	}
	if lead == 0 {
		return 0
	}
	if limit <= 0 {
		return 0
	}
	if int64(lead) < limit {
		return lead
	}

	best := 0
	for _, v := range allowed {
		if v == 0 {
			continue
		}
		if int64(v) < limit && v > best {
			best = v
		}
	}
	return best
}

// NextOpenDue rolls a due date forward by whole cycles until it lies in
// the future, guarded against runaway loops.
func NextOpenDue(due, now int64, r model.Recurrence, unit model.RecurrenceUnit, value int) int64 {
	next := NextDue(due, r, unit, value)
	for guard := 0; next > 0 && next <= now && guard < 24; guard++ {
		next = NextDue(next, r, unit, value)
	}
	return next
}
