package recur

import "github.com/da8ter/todosync/internal/model"

// reopenTick is the scheduling granularity of the reopen pass. The
// reopen window is widened by one tick so a trigger instant falling
// between two passes is not missed.
const reopenTick = 60

// AdvanceOnComplete applies the recurrence rules when an item is marked
// done: the due date advances one cycle and, when the reopen window is
// -1, the item reopens immediately for the next cycle.
func AdvanceOnComplete(it *model.Item, now int64) {
	r := Normalize(string(it.Recurrence), it.Due)
	if r == model.RecurNone {
		return
	}
	if it.Due > 0 {
		it.Due = NextDue(it.Due, r, it.RecurrenceCustomUnit, it.RecurrenceCustomValue)
		it.NotifiedFor = 0
	}
	if it.RecurrenceResetLeadTime == -1 {
		it.Done = false
		it.NotifiedFor = 0
	}
}

// ReopenPass walks completed recurring items and reopens those whose
// reopen window has arrived, rolling overdue due dates forward by whole
// cycles. It mutates items in place and reports whether anything
// changed.
func ReopenPass(items []model.Item, now int64) bool {
	changed := false

	for i := range items {
		it := &items[i]
		if !it.Done || it.Due <= 0 {
			continue
		}

		r := Normalize(string(it.Recurrence), it.Due)
		if r == model.RecurNone {
			if it.Recurrence != model.RecurNone && it.Recurrence != "" {
				it.Recurrence = model.RecurNone
				it.RecurrenceResetLeadTime = 0
				changed = true
			}
			continue
		}

		lead := NormalizeResetLeadTime(it.RecurrenceResetLeadTime, r)
		if lead == -1 {
			if it.Due <= now {
				if next := NextOpenDue(it.Due, now, r, it.RecurrenceCustomUnit, it.RecurrenceCustomValue); next != it.Due {
					it.Due = next
				}
			}
			it.Done = false
			it.NotifiedFor = 0
			it.Touch(now)
			changed = true
			continue
		}
		if lead <= 0 {
			continue
		}

		windowStart := int64(lead - reopenTick)
		left := it.Due - now

		if left <= int64(lead) && left >= windowStart {
			it.Done = false
			it.NotifiedFor = 0
			it.Touch(now)
			changed = true
			continue
		}

		if left < windowStart {
			next := NextOpenDue(it.Due, now, r, it.RecurrenceCustomUnit, it.RecurrenceCustomValue)
			if next != it.Due {
				it.Due = next
				it.NotifiedFor = 0
				it.Touch(now)
				changed = true
			}
		}
	}

	return changed
}

// DueNotification describes an item whose notification trigger instant
// has arrived. Trigger is the instant to record in NotifiedFor once the
// notification has been delivered.
type DueNotification struct {
	ItemID   int64
	Title    string
	LeadTime int
	Trigger  int64
}

// DueNotifications returns the notifications that should fire now:
// open items with notifications enabled whose due minus lead time has
// passed and has not been notified for yet.
func DueNotifications(items []model.Item, now int64, defaultLead int) []DueNotification {
	var due []DueNotification
	for _, it := range items {
		if !it.Notification || it.Done || it.Due <= 0 {
			continue
		}

		lead := defaultLead
		if it.NotificationLeadTime >= 0 {
			lead = it.NotificationLeadTime
		}

		trigger := it.Due - int64(lead)
		if now < trigger || it.NotifiedFor == trigger {
			continue
		}

		due = append(due, DueNotification{
			ItemID:   it.ID,
			Title:    it.Title,
			LeadTime: lead,
			Trigger:  trigger,
		})
	}
	return due
}
