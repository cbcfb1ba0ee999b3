package recur_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/recur"
)

func TestNormalizeRequiresDueDate(t *testing.T) {
	assert.Equal(t, model.RecurNone, recur.Normalize("w1", 0))
	assert.Equal(t, model.RecurWeekly, recur.Normalize("w1", 1000))
	assert.Equal(t, model.RecurNone, recur.Normalize("garbage", 1000))
	assert.Equal(t, model.RecurCustom, recur.Normalize(" CUSTOM ", 1000))
}

func TestNormalizeUnitAndValue(t *testing.T) {
	assert.Equal(t, model.UnitDay, recur.NormalizeUnit("d"))
	assert.Equal(t, model.UnitWeek, recur.NormalizeUnit("x"))
	assert.Equal(t, 1, recur.NormalizeCustomValue(0))
	assert.Equal(t, 1000, recur.NormalizeCustomValue(5000))
	assert.Equal(t, 12, recur.NormalizeCustomValue(12))
}

func TestNormalizeResetLeadTime(t *testing.T) {
	assert.Equal(t, 0, recur.NormalizeResetLeadTime(3600, model.RecurNone))
	assert.Equal(t, -1, recur.NormalizeResetLeadTime(-1, model.RecurWeekly))
	assert.Equal(t, 0, recur.NormalizeResetLeadTime(0, model.RecurWeekly))
	assert.Equal(t, 3600, recur.NormalizeResetLeadTime(3600, model.RecurWeekly))
	// Off-list values fall back to the default window.
	assert.Equal(t, recur.DefaultResetLeadTime, recur.NormalizeResetLeadTime(1234, model.RecurWeekly))
}

func TestNormalizeNotifyLeadTime(t *testing.T) {
	assert.Equal(t, 300, recur.NormalizeNotifyLeadTime(300, 600))
	assert.Equal(t, 600, recur.NormalizeNotifyLeadTime(299, 600))
	assert.Equal(t, 600, recur.NormalizeNotifyLeadTime(-5, 600))
	assert.Equal(t, 0, recur.NormalizeNotifyLeadTime(0, 600))
	assert.Equal(t, 600, recur.NormalizeNotifyLeadTimeDefault(-1))
	assert.Equal(t, 1800, recur.NormalizeNotifyLeadTimeDefault(1800))
}

func TestNextDueWeekVariants(t *testing.T) {
	due := time.Date(2026, 1, 5, 9, 0, 0, 0, time.Local).Unix()

	assert.Equal(t, due+7*86400, recur.NextDue(due, model.RecurWeekly, "", 0))
	assert.Equal(t, due+14*86400, recur.NextDue(due, model.RecurBiweekly, "", 0))
	assert.Equal(t, due+21*86400, recur.NextDue(due, model.RecurTriweekly, "", 0))
}

func TestNextDueMonthlyClampsDayOfMonth(t *testing.T) {
	due := time.Date(2026, 1, 31, 8, 30, 0, 0, time.Local).Unix()

	next := recur.NextDue(due, model.RecurMonthly, "", 0)
	nt := time.Unix(next, 0)
	assert.Equal(t, time.February, nt.Month())
	assert.Equal(t, 28, nt.Day())
	assert.Equal(t, 8, nt.Hour())
	assert.Equal(t, 30, nt.Minute())
}

func TestNextDueQuarterlyAndYearly(t *testing.T) {
	due := time.Date(2026, 11, 15, 12, 0, 0, 0, time.Local).Unix()

	q := time.Unix(recur.NextDue(due, model.RecurQuarterly, "", 0), 0)
	assert.Equal(t, 2027, q.Year())
	assert.Equal(t, time.February, q.Month())

	y := time.Unix(recur.NextDue(due, model.RecurYearly, "", 0), 0)
	assert.Equal(t, 2027, y.Year())
	assert.Equal(t, time.November, y.Month())
}

func TestNextDueCustomUnits(t *testing.T) {
	due := time.Date(2026, 4, 1, 6, 0, 0, 0, time.Local).Unix()

	assert.Equal(t, due+2*3600, recur.NextDue(due, model.RecurCustom, model.UnitHour, 2))
	assert.Equal(t, due+3*86400, recur.NextDue(due, model.RecurCustom, model.UnitDay, 3))
	assert.Equal(t, due+604800, recur.NextDue(due, model.RecurCustom, model.UnitWeek, 1))

	m := time.Unix(recur.NextDue(due, model.RecurCustom, model.UnitMonth, 2), 0)
	assert.Equal(t, time.June, m.Month())

	y := time.Unix(recur.NextDue(due, model.RecurCustom, model.UnitYear, 1), 0)
	assert.Equal(t, 2027, y.Year())
}

func TestClampLeadTimeToInterval(t *testing.T) {
	allowed := recur.ReopenLeadTimes
	week := int64(604800)

	assert.Equal(t, -1, recur.ClampLeadTimeToInterval(-1, week, allowed))
	assert.Equal(t, 3600, recur.ClampLeadTimeToInterval(3600, week, allowed))
	// A window spanning the whole cycle projects to the largest value
	// below it.
	assert.Equal(t, 259200, recur.ClampLeadTimeToInterval(604800, week, allowed))
	assert.Equal(t, 0, recur.ClampLeadTimeToInterval(0, week, allowed))
}

func TestLeadTimeLimitSeconds(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.Local).Unix()
	due := now + 2*3600

	assert.Equal(t, int64(2*3600), recur.LeadTimeLimitSeconds(due, now, model.RecurNone, "", 0))
	// An hourly recurrence caps the limit at one cycle.
	assert.Equal(t, int64(3600), recur.LeadTimeLimitSeconds(due, now, model.RecurCustom, model.UnitHour, 1))
	assert.Zero(t, recur.LeadTimeLimitSeconds(now-10, now, model.RecurNone, "", 0))
}

func TestClampLeadTimeToLimit(t *testing.T) {
	allowed := recur.NotifyLeadTimes

	assert.Equal(t, 600, recur.ClampLeadTimeToLimit(600, 3600, allowed))
	assert.Equal(t, 1800, recur.ClampLeadTimeToLimit(3600, 3600, allowed))
	assert.Equal(t, 0, recur.ClampLeadTimeToLimit(600, 0, allowed))
}

func TestNextOpenDueRollsPastDatesForward(t *testing.T) {
	now := time.Now().Unix()
	due := now - 3*604800 - 100

	next := recur.NextOpenDue(due, now, model.RecurWeekly, "", 0)
	assert.Greater(t, next, now)
	assert.LessOrEqual(t, next, now+604800)
}
