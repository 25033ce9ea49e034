package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow/pkg/timewindow"
)

// Origin tags who put a range on the calendar.
type Origin string

const (
	OriginManualBusy     Origin = "manual_busy"
	OriginBookingDerived Origin = "booking_derived"
)

// TimeRange is a busy interval on one day. Booking-derived ranges carry the
// id of the appointment that committed the time; build them with
// ManualBusy or BookingHold so the two variants cannot be mixed up.
type TimeRange struct {
	Start         timewindow.Minute `json:"start"`
	End           timewindow.Minute `json:"end"`
	Origin        Origin            `json:"origin"`
	AppointmentID *uuid.UUID        `json:"appointment_id,omitempty"`
}

func ManualBusy(span timewindow.Span) TimeRange {
	return TimeRange{Start: span.Start, End: span.End, Origin: OriginManualBusy}
}

func BookingHold(span timewindow.Span, appointmentID uuid.UUID) TimeRange {
	id := appointmentID
	return TimeRange{Start: span.Start, End: span.End, Origin: OriginBookingDerived, AppointmentID: &id}
}

func (r TimeRange) Span() timewindow.Span {
	return timewindow.Span{Start: r.Start, End: r.End}
}

func (r TimeRange) IsHold() bool { return r.Origin == OriginBookingDerived }

// HeldBy reports whether r is a hold placed by the given appointment.
func (r TimeRange) HeldBy(appointmentID uuid.UUID) bool {
	return r.IsHold() && r.AppointmentID != nil && *r.AppointmentID == appointmentID
}

// Day is one caregiver's commitments for one calendar date.
type Day struct {
	CaregiverID uuid.UUID       `db:"caregiver_id" json:"caregiver_id"`
	Date        timewindow.Date `db:"day" json:"date"`
	FullDayFree bool            `db:"full_day_free" json:"full_day_free"`

	// DeclaredFree survives booking holds placed on a free day so that
	// releasing the last one restores the declaration.
	DeclaredFree bool        `db:"declared_free" json:"-"`
	Ranges       []TimeRange `db:"ranges" json:"ranges"`
	VersionID    int         `db:"version_id" json:"version_id"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

func (d *Day) Holds() []TimeRange {
	var out []TimeRange
	for _, r := range d.Ranges {
		if r.IsHold() {
			out = append(out, r)
		}
	}
	return out
}

func (d *Day) ManualRanges() []TimeRange {
	var out []TimeRange
	for _, r := range d.Ranges {
		if !r.IsHold() {
			out = append(out, r)
		}
	}
	return out
}

func (d *Day) sortRanges() {
	sort.SliceStable(d.Ranges, func(i, j int) bool {
		if d.Ranges[i].Start != d.Ranges[j].Start {
			return d.Ranges[i].Start < d.Ranges[j].Start
		}
		return d.Ranges[i].End < d.Ranges[j].End
	})
}

// clone returns a deep copy so cached days are never mutated in place.
func (d *Day) clone() *Day {
	cp := *d
	cp.Ranges = make([]TimeRange, len(d.Ranges))
	for i, r := range d.Ranges {
		cp.Ranges[i] = r
		if r.AppointmentID != nil {
			id := *r.AppointmentID
			cp.Ranges[i].AppointmentID = &id
		}
	}
	return &cp
}

// StatusKind is the answer to "what does this caregiver's day look like".
type StatusKind string

const (
	StatusFullyFree    StatusKind = "fully_free"
	StatusMixed        StatusKind = "mixed"
	StatusNoneDeclared StatusKind = "none_declared"
)

// Status is the query view of a day. NoneDeclared means no record exists and
// callers treat the day as busy. Mixed with no ranges is an explicit,
// declared day with nothing on it.
type Status struct {
	CaregiverID uuid.UUID       `json:"caregiver_id"`
	Date        timewindow.Date `json:"date"`
	Kind        StatusKind      `json:"status"`
	Ranges      []TimeRange     `json:"ranges"`
	VersionID   int             `json:"version_id,omitempty"`
}

func statusOf(cg uuid.UUID, date timewindow.Date, d *Day) Status {
	st := Status{CaregiverID: cg, Date: date, Ranges: []TimeRange{}}
	switch {
	case d == nil:
		st.Kind = StatusNoneDeclared
	case d.FullDayFree:
		st.Kind = StatusFullyFree
		st.VersionID = d.VersionID
	default:
		st.Kind = StatusMixed
		st.VersionID = d.VersionID
		st.Ranges = append(st.Ranges, d.Ranges...)
	}
	return st
}

// SetRequest is the body of a setAvailability call: either the full-day-free
// flag or a list of manual busy spans.
type SetRequest struct {
	FullDayFree bool              `json:"full_day_free"`
	Busy        []timewindow.Span `json:"busy"`
}
