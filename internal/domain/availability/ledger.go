package availability

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/internal/platform/events"
	"github.com/careflow/careflow/internal/platform/telemetry"
	"github.com/careflow/careflow/pkg/timewindow"
)

// TxRunner groups repository calls into one unit of work. *db.TxManager
// implements it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ChangedEvent is published on events.SubjectAvailabilityChanged.
type ChangedEvent struct {
	CaregiverID uuid.UUID       `json:"caregiver_id"`
	Date        timewindow.Date `json:"date"`
	Status      StatusKind      `json:"status"`
	VersionID   int             `json:"version_id"`
}

const (
	opSetFullDayFree = "set_full_day_free"
	opSetManualBusy  = "set_manual_busy"
	opAddHold        = "add_hold"
	opReleaseHold    = "release_hold"
	opClaimHold      = "claim_hold"
)

// Ledger owns every mutation of a caregiver's availability. Each mutation is
// read, validate, compare-and-set write; a lost race returns apperr.Conflict.
type Ledger struct {
	repo      Repository
	tx        TxRunner
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
}

func NewLedger(repo Repository, tx TxRunner, publisher events.Publisher, metrics *telemetry.Metrics, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "availability").Logger(),
	}
}

// load returns the stored day or a fresh, unsaved one.
func (l *Ledger) load(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (*Day, bool, error) {
	d, err := l.repo.Get(ctx, caregiverID, date)
	if apperr.Is(err, apperr.NotFound) {
		return &Day{CaregiverID: caregiverID, Date: date}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (l *Ledger) save(ctx context.Context, d *Day, exists bool) error {
	d.sortRanges()
	if exists {
		return l.repo.Update(ctx, d)
	}
	return l.repo.Insert(ctx, d)
}

// mutate runs fn in a transaction and records the outcome. A change is
// announced once the outermost transaction commits, so a hold placed as
// part of an appointment transition is only published if that transition
// sticks.
func (l *Ledger) mutate(ctx context.Context, op string, fn func(ctx context.Context) (*Day, bool, error)) (*Day, error) {
	var day *Day
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, changed, err := fn(ctx)
		if err != nil {
			return err
		}
		day = d
		if changed {
			evt := ChangedEventOf(d)
			db.AfterCommit(ctx, func() {
				events.PublishAfterCommit(ctx, l.publisher, l.logger, events.SubjectAvailabilityChanged, evt)
			})
		}
		return nil
	})
	l.metrics.LedgerWrite(op, telemetry.ResultOf(err))
	if err != nil {
		l.logger.Debug().Err(err).Str("op", op).Msg("ledger write rejected")
		return nil, err
	}
	return day, nil
}

// ChangedEventOf builds the availability.changed payload for d.
func ChangedEventOf(d *Day) ChangedEvent {
	return ChangedEvent{
		CaregiverID: d.CaregiverID,
		Date:        d.Date,
		Status:      statusOf(d.CaregiverID, d.Date, d).Kind,
		VersionID:   d.VersionID,
	}
}

// SetFullDayFree clears every range of the day, booking holds included,
// and marks it free. The appointments behind dropped holds are logged; the
// start transition places their hold again.
func (l *Ledger) SetFullDayFree(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (*Day, error) {
	return l.mutate(ctx, opSetFullDayFree, func(ctx context.Context) (*Day, bool, error) {
		d, exists, err := l.load(ctx, caregiverID, date)
		if err != nil {
			return nil, false, err
		}
		dropped := d.Holds()
		d.FullDayFree = true
		d.DeclaredFree = true
		d.Ranges = []TimeRange{}
		if err := l.save(ctx, d, exists); err != nil {
			return nil, false, err
		}
		if len(dropped) > 0 {
			ids := make([]string, len(dropped))
			for i, h := range dropped {
				ids[i] = h.AppointmentID.String()
			}
			l.logger.Warn().
				Str("caregiver_id", caregiverID.String()).
				Str("date", date.String()).
				Strs("appointment_ids", ids).
				Msg("full-day-free declaration dropped booking holds")
		}
		return d, true, nil
	})
}

// SetManualBusyRanges replaces the manual ranges of the day. Booking holds
// are kept as they are and no new range may overlap one.
func (l *Ledger) SetManualBusyRanges(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, spans []timewindow.Span) (*Day, error) {
	sorted := append([]timewindow.Span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, s := range sorted {
		if err := s.Validate(); err != nil {
			l.metrics.LedgerWrite(opSetManualBusy, telemetry.ResultOf(err))
			return nil, err
		}
		if i > 0 && sorted[i-1].Overlaps(s) {
			err := apperr.New(apperr.OverlapsExistingRange, "busy ranges %s and %s overlap", sorted[i-1], s)
			l.metrics.LedgerWrite(opSetManualBusy, telemetry.ResultOf(err))
			return nil, err
		}
	}

	return l.mutate(ctx, opSetManualBusy, func(ctx context.Context) (*Day, bool, error) {
		d, exists, err := l.load(ctx, caregiverID, date)
		if err != nil {
			return nil, false, err
		}
		holds := d.Holds()
		for _, s := range sorted {
			for _, h := range holds {
				if s.Overlaps(h.Span()) {
					return nil, false, apperr.New(apperr.OverlapsBooking,
						"busy range %s overlaps booking %s", s, h.Span()).
						With("appointment_id", h.AppointmentID.String()).
						With("range", s.String())
				}
			}
		}

		ranges := append([]TimeRange{}, holds...)
		for _, s := range sorted {
			ranges = append(ranges, ManualBusy(s))
		}
		d.FullDayFree = false
		d.DeclaredFree = false
		d.Ranges = ranges
		if err := l.save(ctx, d, exists); err != nil {
			return nil, false, err
		}
		return d, true, nil
	})
}

// placeHold puts span on d for appointmentID. It reports false when the
// identical hold is already there.
func placeHold(d *Day, span timewindow.Span, appointmentID uuid.UUID) (bool, error) {
	kept := make([]TimeRange, 0, len(d.Ranges)+1)
	for _, r := range d.Ranges {
		if r.HeldBy(appointmentID) {
			if r.Span() == span {
				return false, nil
			}
			continue
		}
		if span.Overlaps(r.Span()) {
			e := apperr.New(apperr.OverlapsExistingRange,
				"hold %s overlaps %s range %s", span, r.Origin, r.Span()).
				With("origin", string(r.Origin)).
				With("range", r.Span().String())
			if r.AppointmentID != nil {
				e = e.With("appointment_id", r.AppointmentID.String())
			}
			return false, e
		}
		kept = append(kept, r)
	}
	d.FullDayFree = false
	d.Ranges = append(kept, BookingHold(span, appointmentID))
	return true, nil
}

// AddBookingHold records that appointmentID committed span on the day.
// Re-adding the identical hold is a no-op; a hold of a different size for
// the same appointment replaces the old one.
func (l *Ledger) AddBookingHold(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, span timewindow.Span, appointmentID uuid.UUID) (*Day, error) {
	if err := span.Validate(); err != nil {
		l.metrics.LedgerWrite(opAddHold, telemetry.ResultOf(err))
		return nil, err
	}

	return l.mutate(ctx, opAddHold, func(ctx context.Context) (*Day, bool, error) {
		d, exists, err := l.load(ctx, caregiverID, date)
		if err != nil {
			return nil, false, err
		}
		placed, err := placeHold(d, span, appointmentID)
		if err != nil || !placed {
			return d, false, err
		}
		if err := l.save(ctx, d, exists); err != nil {
			return nil, false, err
		}
		return d, true, nil
	})
}

// DayVersion returns the stored version of the day, or 0 when nothing was
// declared. Read it before any check whose outcome ClaimHold must protect.
func (l *Ledger) DayVersion(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (int, error) {
	d, exists, err := l.load(ctx, caregiverID, date)
	if err != nil || !exists {
		return 0, err
	}
	return d.VersionID, nil
}

// ClaimHold ensures the hold like AddBookingHold but always writes the day,
// and only if it is still at version. Two callers that checked the same day
// therefore cannot both succeed: the second gets apperr.Conflict.
func (l *Ledger) ClaimHold(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, span timewindow.Span, appointmentID uuid.UUID, version int) (*Day, error) {
	if err := span.Validate(); err != nil {
		l.metrics.LedgerWrite(opClaimHold, telemetry.ResultOf(err))
		return nil, err
	}

	return l.mutate(ctx, opClaimHold, func(ctx context.Context) (*Day, bool, error) {
		d, exists, err := l.load(ctx, caregiverID, date)
		if err != nil {
			return nil, false, err
		}
		if d.VersionID != version {
			return nil, false, apperr.New(apperr.Conflict,
				"availability for %s changed since it was checked, reload and retry", date).
				With("version_id", version)
		}
		placed, err := placeHold(d, span, appointmentID)
		if err != nil {
			return nil, false, err
		}
		if err := l.save(ctx, d, exists); err != nil {
			return nil, false, err
		}
		return d, placed, nil
	})
}

// ReleaseBookingHold removes every hold of appointmentID on the day. It is
// a no-op when there is none. A day that was declared free and has no
// ranges left becomes free again.
func (l *Ledger) ReleaseBookingHold(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, appointmentID uuid.UUID) (*Day, error) {
	return l.mutate(ctx, opReleaseHold, func(ctx context.Context) (*Day, bool, error) {
		d, exists, err := l.load(ctx, caregiverID, date)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return d, false, nil
		}

		kept := make([]TimeRange, 0, len(d.Ranges))
		for _, r := range d.Ranges {
			if !r.HeldBy(appointmentID) {
				kept = append(kept, r)
			}
		}
		if len(kept) == len(d.Ranges) {
			return d, false, nil
		}
		d.Ranges = kept
		if len(kept) == 0 && d.DeclaredFree {
			d.FullDayFree = true
		}
		if err := l.save(ctx, d, exists); err != nil {
			return nil, false, err
		}
		return d, true, nil
	})
}

// StatusForDate answers FullyFree, Mixed(ranges) or NoneDeclared.
func (l *Ledger) StatusForDate(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (Status, error) {
	d, err := l.repo.Get(ctx, caregiverID, date)
	if apperr.Is(err, apperr.NotFound) {
		return statusOf(caregiverID, date, nil), nil
	}
	if err != nil {
		return Status{}, err
	}
	return statusOf(caregiverID, date, d), nil
}

// SetAvailability applies a caregiver's edit: either the whole day free or
// a replacement set of manual busy ranges.
func (l *Ledger) SetAvailability(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date, req SetRequest) (Status, error) {
	var (
		d   *Day
		err error
	)
	if req.FullDayFree {
		if len(req.Busy) > 0 {
			return Status{}, apperr.New(apperr.InvalidInput, "full_day_free and busy ranges are mutually exclusive")
		}
		d, err = l.SetFullDayFree(ctx, caregiverID, date)
	} else {
		d, err = l.SetManualBusyRanges(ctx, caregiverID, date, req.Busy)
	}
	if err != nil {
		return Status{}, err
	}
	l.logger.Info().
		Str("caregiver_id", caregiverID.String()).
		Str("date", date.String()).
		Int("ranges", len(d.Ranges)).
		Bool("full_day_free", d.FullDayFree).
		Msg("availability updated")
	return statusOf(caregiverID, date, d), nil
}
