package appointment

import (
	"time"

	"github.com/careflow/careflow/pkg/timewindow"
)

// ResponseWindow is how long a caregiver has to answer a request made
// leadDays before the service date.
func ResponseWindow(leadDays int) time.Duration {
	switch {
	case leadDays >= 3:
		return 24 * time.Hour
	case leadDays >= 1:
		return 12 * time.Hour
	default:
		return 6 * time.Hour
	}
}

// ResponseDeadline is fixed once, when the request is created.
func ResponseDeadline(now time.Time, serviceDate timewindow.Date, loc *time.Location) time.Time {
	return now.Add(ResponseWindow(timewindow.LeadDays(now, serviceDate, loc)))
}

// overdue reports whether a pending appointment missed its deadline.
func overdue(a *Appointment, now time.Time) bool {
	return a.Status == StatusPending && a.ResponseDeadline != nil && now.After(*a.ResponseDeadline)
}
