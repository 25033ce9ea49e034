package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow/pkg/timewindow"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

var statusLabels = map[Status]string{
	StatusPending:    "Chờ xác nhận",
	StatusConfirmed:  "Đã xác nhận",
	StatusInProgress: "Đang thực hiện",
	StatusCompleted:  "Hoàn thành",
	StatusCancelled:  "Đã hủy",
	StatusRejected:   "Đã từ chối",
}

// Label is the display string shown to users. It is derived from the status
// and never parsed back.
func (s Status) Label() string { return statusLabels[s] }

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// HoldsTime reports whether an appointment in this status commits caregiver time.
func (s Status) HoldsTime() bool {
	return s == StatusConfirmed || s == StatusInProgress
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	return p == PaymentPending || p == PaymentPaid || p == PaymentRefunded
}

// ReasonDeadlineExpired is recorded when the sweep cancels an unanswered request.
const ReasonDeadlineExpired = "deadline_expired"

type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Required  bool   `json:"required"`
	Completed bool   `json:"completed"`
}

type Appointment struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	RequesterID        uuid.UUID          `db:"requester_id" json:"requester_id"`
	CaregiverID        uuid.UUID          `db:"caregiver_id" json:"caregiver_id"`
	CareRecipientID    uuid.UUID          `db:"care_recipient_id" json:"care_recipient_id"`
	ContactName        string             `db:"contact_name" json:"contact_name"`
	ContactPhone       *string            `db:"contact_phone" json:"contact_phone,omitempty"`
	Location           string             `db:"location" json:"location"`
	ServiceDate        timewindow.Date    `db:"service_date" json:"service_date"`
	StartMinute        timewindow.Minute  `db:"start_minute" json:"start_time"`
	EndMinute          *timewindow.Minute `db:"end_minute" json:"end_time,omitempty"`
	PackageLabel       string             `db:"package_label" json:"package_label"`
	Amount             int64              `db:"amount" json:"amount"`
	PaymentStatus      PaymentStatus      `db:"payment_status" json:"payment_status"`
	Status             Status             `db:"status" json:"status"`
	StatusLabel        string             `db:"-" json:"status_label"`
	ResponseDeadline   *time.Time         `db:"response_deadline" json:"response_deadline,omitempty"`
	CancellationReason *string            `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	Tasks              []Task             `db:"tasks" json:"tasks"`
	VersionID          int                `db:"version_id" json:"version_id"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// HoldSpan is the time the appointment claims on the caregiver's calendar.
// Open-ended appointments hold until the end of the day.
func (a *Appointment) HoldSpan() timewindow.Span {
	end := timewindow.EndOfDay
	if a.EndMinute != nil {
		end = *a.EndMinute
	}
	return timewindow.Span{Start: a.StartMinute, End: end}
}

// IncompleteRequiredTasks lists required tasks not yet completed.
func (a *Appointment) IncompleteRequiredTasks() []Task {
	var out []Task
	for _, t := range a.Tasks {
		if t.Required && !t.Completed {
			out = append(out, t)
		}
	}
	return out
}

func (a *Appointment) clone() *Appointment {
	cp := *a
	cp.Tasks = append([]Task(nil), a.Tasks...)
	if a.ContactPhone != nil {
		v := *a.ContactPhone
		cp.ContactPhone = &v
	}
	if a.EndMinute != nil {
		v := *a.EndMinute
		cp.EndMinute = &v
	}
	if a.ResponseDeadline != nil {
		v := *a.ResponseDeadline
		cp.ResponseDeadline = &v
	}
	if a.CancellationReason != nil {
		v := *a.CancellationReason
		cp.CancellationReason = &v
	}
	return &cp
}

// withLabel fills the derived display field before the record leaves the package.
func (a *Appointment) withLabel() *Appointment {
	a.StatusLabel = a.Status.Label()
	return a
}

// TransitionRecord is one row of an appointment's status history.
type TransitionRecord struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	From          Status    `db:"from_status" json:"from"`
	To            Status    `db:"to_status" json:"to"`
	ActorID       string    `db:"actor_id" json:"actor_id"`
	Reason        *string   `db:"reason" json:"reason,omitempty"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurred_at"`
}

// CreateRequest carries the fields a requester supplies when booking.
type CreateRequest struct {
	RequesterID     uuid.UUID          `json:"requester_id"`
	CaregiverID     uuid.UUID          `json:"caregiver_id"`
	CareRecipientID uuid.UUID          `json:"care_recipient_id"`
	ContactName     string             `json:"contact_name"`
	ContactPhone    *string            `json:"contact_phone,omitempty"`
	Location        string             `json:"location"`
	ServiceDate     timewindow.Date    `json:"service_date"`
	StartTime       timewindow.Minute  `json:"start_time"`
	EndTime         *timewindow.Minute `json:"end_time,omitempty"`
	PackageLabel    string             `json:"package_label"`
	Amount          int64              `json:"amount"`
	Tasks           []Task             `json:"tasks"`
}

// Filter narrows ListAppointments. Zero values are ignored.
type Filter struct {
	RequesterID *uuid.UUID
	CaregiverID *uuid.UUID
	Status      *Status
	From        *timewindow.Date
	To          *timewindow.Date
	Limit       int
	Offset      int
}

// StartConflict explains why an appointment cannot start yet.
type StartConflict struct {
	BlockingID     uuid.UUID `json:"blocking_id"`
	OtherPartyName string    `json:"other_party_name"`
	OtherLocation  string    `json:"other_location"`
}
