package appointment

import (
	"time"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/pkg/timewindow"
)

// ledgerEffect is what a transition does to the caregiver's calendar.
type ledgerEffect int

const (
	effectNone ledgerEffect = iota
	effectHold
	effectRelease
	// effectClaim ensures the hold and always rewrites the day, so two
	// starts checked against the same running set cannot both commit.
	effectClaim
)

// cancelLeadDays is the minimum number of days between today and the
// service date for a confirmed appointment to be cancellable.
const cancelLeadDays = 3

// guardInput is everything a guard may look at besides the appointment.
type guardInput struct {
	now     time.Time
	loc     *time.Location
	running []*Appointment
}

func (g guardInput) today() timewindow.Date { return timewindow.DateOf(g.now, g.loc) }

func invalidTransition(from, to Status) *apperr.Error {
	return apperr.New(apperr.InvalidTransition, "cannot move from %s to %s", from, to).
		With("from", string(from)).
		With("to", string(to))
}

// checkTransition validates a move to `to` and reports the calendar side
// effect. It never mutates a.
func checkTransition(a *Appointment, to Status, in guardInput) (ledgerEffect, error) {
	from := a.Status
	if from.Terminal() || !to.Valid() {
		return effectNone, invalidTransition(from, to)
	}

	switch {
	case from == StatusPending && (to == StatusConfirmed || to == StatusRejected):
		if overdue(a, in.now) {
			return effectNone, apperr.New(apperr.DeadlineExpired,
				"the response deadline passed at %s", a.ResponseDeadline.In(in.loc).Format(time.RFC3339)).
				With("response_deadline", *a.ResponseDeadline)
		}
		if to == StatusConfirmed {
			return effectHold, nil
		}
		return effectRelease, nil

	case from == StatusPending && to == StatusCancelled:
		// Only the expiry path may cancel an unanswered request.
		if !overdue(a, in.now) {
			return effectNone, invalidTransition(from, to)
		}
		return effectRelease, nil

	case from == StatusConfirmed && to == StatusCancelled:
		lead := timewindow.DaysBetween(in.today(), a.ServiceDate)
		if lead <= cancelLeadDays {
			return effectNone, apperr.New(apperr.CancellationWindowClosed,
				"appointments can only be cancelled more than %d days ahead", cancelLeadDays).
				With("service_date", a.ServiceDate.String()).
				With("days_left", lead)
		}
		return effectRelease, nil

	case from == StatusConfirmed && to == StatusInProgress:
		today := in.today()
		if today != a.ServiceDate {
			return effectNone, apperr.New(apperr.NotServiceDate,
				"appointment is scheduled for %s, today is %s", a.ServiceDate, today).
				With("service_date", a.ServiceDate.String()).
				With("today", today.String())
		}
		if c := DetectStartConflict(a, in.running); c != nil {
			return effectNone, apperr.New(apperr.ActiveJobConflict,
				"caregiver is already working for %s at %s", c.OtherPartyName, c.OtherLocation).
				With("blocking_id", c.BlockingID.String()).
				With("other_party_name", c.OtherPartyName).
				With("other_location", c.OtherLocation)
		}
		return effectClaim, nil

	case from == StatusInProgress && to == StatusCompleted:
		if missing := a.IncompleteRequiredTasks(); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, t := range missing {
				names[i] = t.Name
			}
			return effectNone, apperr.New(apperr.IncompleteRequiredTasks,
				"%d required task(s) not completed", len(missing)).
				With("tasks", missing).
				With("task_names", names)
		}
		return effectRelease, nil
	}

	return effectNone, invalidTransition(from, to)
}

// apply produces the record as it will be stored after moving to `to`.
func apply(a *Appointment, to Status, reason string) *Appointment {
	next := a.clone()
	next.Status = to
	if a.Status == StatusPending {
		next.ResponseDeadline = nil
	}
	if to == StatusCancelled || to == StatusRejected {
		if a.Status == StatusPending && to == StatusCancelled {
			reason = ReasonDeadlineExpired
		}
		if reason != "" {
			next.CancellationReason = &reason
		}
	}
	return next
}
