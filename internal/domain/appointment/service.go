package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/domain/availability"
	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/internal/platform/events"
	"github.com/careflow/careflow/internal/platform/telemetry"
	"github.com/careflow/careflow/pkg/timewindow"
)

// Ledger is the part of the availability ledger transitions drive.
type Ledger interface {
	AddBookingHold(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, span timewindow.Span, appointmentID uuid.UUID) (*availability.Day, error)
	ReleaseBookingHold(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, appointmentID uuid.UUID) (*availability.Day, error)
	DayVersion(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (int, error)
	ClaimHold(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, span timewindow.Span, appointmentID uuid.UUID, version int) (*availability.Day, error)
}

// TxRunner groups store and ledger writes into one unit of work.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SystemActor is recorded as the actor of sweep-driven transitions.
const SystemActor = "system:deadline-sweep"

type Service struct {
	repo      Repository
	ledger    Ledger
	tx        TxRunner
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	loc       *time.Location
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the caregiver time zone used for "today" and lead days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(repo Repository, ledger Ledger, tx TxRunner, publisher events.Publisher, metrics *telemetry.Metrics, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		ledger:    ledger,
		tx:        tx,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "appointment").Logger(),
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Event is the payload of careflow.appointment.<status>.
type Event struct {
	AppointmentID uuid.UUID       `json:"appointment_id"`
	RequesterID   uuid.UUID       `json:"requester_id"`
	CaregiverID   uuid.UUID       `json:"caregiver_id"`
	From          Status          `json:"from,omitempty"`
	Status        Status          `json:"status"`
	StatusLabel   string          `json:"status_label"`
	ServiceDate   timewindow.Date `json:"service_date"`
	ActorID       string          `json:"actor_id,omitempty"`
	Reason        *string         `json:"reason,omitempty"`
	VersionID     int             `json:"version_id"`
}

func (s *Service) announce(ctx context.Context, a *Appointment, from Status, actorID string) {
	evt := Event{
		AppointmentID: a.ID,
		RequesterID:   a.RequesterID,
		CaregiverID:   a.CaregiverID,
		From:          from,
		Status:        a.Status,
		StatusLabel:   a.Status.Label(),
		ServiceDate:   a.ServiceDate,
		ActorID:       actorID,
		Reason:        a.CancellationReason,
		VersionID:     a.VersionID,
	}
	db.AfterCommit(ctx, func() {
		events.PublishAfterCommit(ctx, s.publisher, s.logger, events.AppointmentSubject(string(a.Status)), evt)
	})
}

// -- Create --

func (s *Service) validateCreate(req *CreateRequest) error {
	switch {
	case req.RequesterID == uuid.Nil:
		return apperr.New(apperr.InvalidInput, "requester_id is required")
	case req.CaregiverID == uuid.Nil:
		return apperr.New(apperr.InvalidInput, "caregiver_id is required")
	case req.CareRecipientID == uuid.Nil:
		return apperr.New(apperr.InvalidInput, "care_recipient_id is required")
	case req.ServiceDate.IsZero():
		return apperr.New(apperr.InvalidInput, "service_date is required")
	case req.Amount < 0:
		return apperr.New(apperr.InvalidInput, "amount must not be negative")
	case strings.TrimSpace(req.Location) == "":
		return apperr.New(apperr.InvalidInput, "location is required")
	}
	if !req.StartTime.Valid() || req.StartTime >= timewindow.EndOfDay {
		return apperr.New(apperr.InvalidFormat, "start_time %d is out of range", req.StartTime)
	}
	if req.EndTime != nil {
		if err := (timewindow.Span{Start: req.StartTime, End: *req.EndTime}).Validate(); err != nil {
			return apperr.New(apperr.InvalidInput, "start_time must be before end_time")
		}
	}

	seen := make(map[string]bool, len(req.Tasks))
	for i := range req.Tasks {
		t := &req.Tasks[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return apperr.New(apperr.InvalidInput, "task %d has no name", i+1)
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if seen[t.ID] {
			return apperr.New(apperr.InvalidInput, "duplicate task id %s", t.ID)
		}
		seen[t.ID] = true
		t.Completed = false
	}
	return nil
}

// CreateAppointment books a new pending request and fixes its response
// deadline from the current time.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if err := s.validateCreate(&req); err != nil {
		return nil, err
	}

	now := s.now()
	deadline := ResponseDeadline(now, req.ServiceDate, s.loc)
	a := &Appointment{
		ID:               uuid.New(),
		RequesterID:      req.RequesterID,
		CaregiverID:      req.CaregiverID,
		CareRecipientID:  req.CareRecipientID,
		ContactName:      strings.TrimSpace(req.ContactName),
		ContactPhone:     req.ContactPhone,
		Location:         strings.TrimSpace(req.Location),
		ServiceDate:      req.ServiceDate,
		StartMinute:      req.StartTime,
		EndMinute:        req.EndTime,
		PackageLabel:     req.PackageLabel,
		Amount:           req.Amount,
		PaymentStatus:    PaymentPending,
		Status:           StatusPending,
		ResponseDeadline: &deadline,
		Tasks:            req.Tasks,
	}
	if a.Tasks == nil {
		a.Tasks = []Task{}
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("caregiver_id", a.CaregiverID.String()).
		Str("service_date", a.ServiceDate.String()).
		Time("response_deadline", deadline).
		Msg("appointment requested")
	s.announce(ctx, a, "", "")
	return a.withLabel(), nil
}

// -- Read --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.withLabel(), nil
}

func (s *Service) ListAppointments(ctx context.Context, f Filter) ([]*Appointment, int, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, 0, apperr.New(apperr.InvalidInput, "from %s is after to %s", f.From, f.To)
	}
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		a.withLabel()
	}
	return items, total, nil
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*TransitionRecord, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListTransitions(ctx, id)
}

// CheckStartConflict is the read-only pre-check behind the start button.
// It returns nil when nothing blocks the appointment from starting.
func (s *Service) CheckStartConflict(ctx context.Context, id uuid.UUID) (*StartConflict, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	running, err := s.repo.ListByCaregiverStatus(ctx, a.CaregiverID, StatusInProgress)
	if err != nil {
		return nil, err
	}
	return DetectStartConflict(a, running), nil
}

// -- Transitions --

// Transition moves an appointment to target on behalf of actorID. The status
// write, the calendar side effect and the history row commit together.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actorID, reason string) (*Appointment, error) {
	var (
		from   Status
		result *Appointment
	)
	now := s.now()
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from = a.Status

		in := guardInput{now: now, loc: s.loc}
		dayVersion := 0
		if a.Status == StatusConfirmed && target == StatusInProgress {
			// The day version is read before the running set so that a start
			// committed in between invalidates this one.
			if dayVersion, err = s.ledger.DayVersion(ctx, a.CaregiverID, a.ServiceDate); err != nil {
				return err
			}
			if in.running, err = s.repo.ListByCaregiverStatus(ctx, a.CaregiverID, StatusInProgress); err != nil {
				return err
			}
		}
		effect, err := checkTransition(a, target, in)
		if err != nil {
			return err
		}

		result, err = s.commit(ctx, a, target, effect, dayVersion, actorID, reason)
		return err
	})

	s.metrics.Transition(string(from), string(target), telemetry.ResultOf(err))
	if err != nil {
		s.logger.Debug().Err(err).
			Str("appointment_id", id.String()).
			Str("from", string(from)).
			Str("to", string(target)).
			Msg("transition rejected")
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor_id", actorID).
		Msg("appointment transitioned")
	return result.withLabel(), nil
}

// commit writes the new status, applies the ledger effect and appends the
// history row. dayVersion is only used by effectClaim. ctx must carry the
// surrounding transaction.
func (s *Service) commit(ctx context.Context, a *Appointment, target Status, effect ledgerEffect, dayVersion int, actorID, reason string) (*Appointment, error) {
	next := apply(a, target, reason)
	if err := s.repo.Update(ctx, next); err != nil {
		return nil, err
	}

	switch effect {
	case effectHold:
		if _, err := s.ledger.AddBookingHold(ctx, next.CaregiverID, next.ServiceDate, next.HoldSpan(), next.ID); err != nil {
			return nil, err
		}
	case effectClaim:
		if _, err := s.ledger.ClaimHold(ctx, next.CaregiverID, next.ServiceDate, next.HoldSpan(), next.ID, dayVersion); err != nil {
			return nil, err
		}
	case effectRelease:
		if _, err := s.ledger.ReleaseBookingHold(ctx, next.CaregiverID, next.ServiceDate, next.ID); err != nil {
			return nil, err
		}
	}

	rec := &TransitionRecord{
		AppointmentID: next.ID,
		From:          a.Status,
		To:            target,
		ActorID:       actorID,
		Reason:        next.CancellationReason,
	}
	if err := s.repo.AppendTransition(ctx, rec); err != nil {
		return nil, err
	}
	s.announce(ctx, next, a.Status, actorID)
	return next, nil
}

// ExpireOverdue cancels a pending appointment whose response deadline has
// passed. It is idempotent: anything else is returned unchanged.
func (s *Service) ExpireOverdue(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.expire(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.withLabel(), nil
}

func (s *Service) expire(ctx context.Context, id uuid.UUID) (*Appointment, bool, error) {
	var (
		result  *Appointment
		expired bool
	)
	now := s.now()
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !overdue(a, now) {
			result = a
			return nil
		}
		effect, err := checkTransition(a, StatusCancelled, guardInput{now: now, loc: s.loc})
		if err != nil {
			return err
		}
		result, err = s.commit(ctx, a, StatusCancelled, effect, 0, SystemActor, ReasonDeadlineExpired)
		expired = err == nil
		return err
	})
	if expired {
		s.metrics.Transition(string(StatusPending), string(StatusCancelled), telemetry.ResultOK)
		s.logger.Info().Str("appointment_id", id.String()).Msg("pending appointment expired")
	}
	return result, expired, err
}

// -- Tasks --

// UpdateTask ticks or unticks a checklist item while the job is confirmed
// or running.
func (s *Service) UpdateTask(ctx context.Context, id uuid.UUID, taskID string, completed bool) (*Appointment, error) {
	var result *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !a.Status.HoldsTime() {
			return apperr.New(apperr.InvalidTransition, "tasks cannot change while %s", a.Status).
				With("status", string(a.Status))
		}
		next := a.clone()
		found := false
		for i := range next.Tasks {
			if next.Tasks[i].ID == taskID {
				next.Tasks[i].Completed = completed
				found = true
				break
			}
		}
		if !found {
			return apperr.New(apperr.NotFound, "task %s not found", taskID)
		}
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.withLabel(), nil
}
