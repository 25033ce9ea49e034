package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow/internal/domain/availability"
	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/pkg/timewindow"
)

func TestAvailabilityDeclarations(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, time.Date(2026, time.October, 19, 10, 0, 0, 0, ict))
	caregiver := uuid.New()
	date := timewindow.NewDate(2026, time.October, 28)

	t.Run("NoneDeclared", func(t *testing.T) {
		st, err := s.ledger.StatusForDate(ctx, caregiver, date)
		if err != nil {
			t.Fatalf("StatusForDate: %v", err)
		}
		if st.Kind != availability.StatusNoneDeclared {
			t.Errorf("expected none_declared, got %s", st.Kind)
		}
	})

	t.Run("FullDayFree", func(t *testing.T) {
		st, err := s.ledger.SetAvailability(ctx, caregiver, date, availability.SetRequest{FullDayFree: true})
		if err != nil {
			t.Fatalf("SetAvailability: %v", err)
		}
		if st.Kind != availability.StatusFullyFree {
			t.Errorf("expected fully_free, got %s", st.Kind)
		}
	})

	t.Run("ManualBusyReplacesFlag", func(t *testing.T) {
		st, err := s.ledger.SetAvailability(ctx, caregiver, date, availability.SetRequest{
			Busy: []timewindow.Span{{Start: 780, End: 840}, {Start: 480, End: 540}},
		})
		if err != nil {
			t.Fatalf("SetAvailability: %v", err)
		}
		if st.Kind != availability.StatusMixed || len(st.Ranges) != 2 {
			t.Fatalf("expected two manual ranges, got %+v", st)
		}
		if st.Ranges[0].Start != 480 {
			t.Errorf("ranges must be sorted by start, got %+v", st.Ranges)
		}

		reread, err := s.ledger.StatusForDate(ctx, caregiver, date)
		if err != nil {
			t.Fatalf("StatusForDate: %v", err)
		}
		if reread.VersionID != st.VersionID || len(reread.Ranges) != 2 {
			t.Errorf("stored day differs from returned one: %+v vs %+v", reread, st)
		}
	})

	t.Run("HoldSurvivesManualEdit", func(t *testing.T) {
		appt := uuid.New()
		if _, err := s.ledger.AddBookingHold(ctx, caregiver, date, timewindow.Span{Start: 600, End: 720}, appt); err != nil {
			t.Fatalf("AddBookingHold: %v", err)
		}
		_, err := s.ledger.SetAvailability(ctx, caregiver, date, availability.SetRequest{
			Busy: []timewindow.Span{{Start: 660, End: 700}},
		})
		if !apperr.Is(err, apperr.OverlapsBooking) {
			t.Fatalf("expected OverlapsBooking, got %v", err)
		}

		st, err := s.ledger.SetAvailability(ctx, caregiver, date, availability.SetRequest{
			Busy: []timewindow.Span{{Start: 420, End: 480}},
		})
		if err != nil {
			t.Fatalf("SetAvailability: %v", err)
		}
		holds := 0
		for _, r := range st.Ranges {
			if r.HeldBy(appt) {
				holds++
			}
		}
		if holds != 1 || len(st.Ranges) != 2 {
			t.Errorf("expected the hold plus one manual range, got %+v", st.Ranges)
		}

		if _, err := s.ledger.ReleaseBookingHold(ctx, caregiver, date, appt); err != nil {
			t.Fatalf("ReleaseBookingHold: %v", err)
		}
		st, err = s.ledger.StatusForDate(ctx, caregiver, date)
		if err != nil {
			t.Fatalf("StatusForDate: %v", err)
		}
		if len(st.Ranges) != 1 || st.Ranges[0].IsHold() {
			t.Errorf("expected only the manual range left, got %+v", st.Ranges)
		}
	})
}

func TestAvailability_FreeDayRestoredAfterRelease(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, time.Date(2026, time.October, 19, 10, 0, 0, 0, ict))
	caregiver := uuid.New()
	date := timewindow.NewDate(2026, time.October, 30)
	appt := uuid.New()

	if _, err := s.ledger.SetAvailability(ctx, caregiver, date, availability.SetRequest{FullDayFree: true}); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if _, err := s.ledger.AddBookingHold(ctx, caregiver, date, timewindow.Span{Start: 540, End: 660}, appt); err != nil {
		t.Fatalf("AddBookingHold: %v", err)
	}
	if _, err := s.ledger.ReleaseBookingHold(ctx, caregiver, date, appt); err != nil {
		t.Fatalf("ReleaseBookingHold: %v", err)
	}

	st, err := s.ledger.StatusForDate(ctx, caregiver, date)
	if err != nil {
		t.Fatalf("StatusForDate: %v", err)
	}
	if st.Kind != availability.StatusFullyFree {
		t.Errorf("expected fully_free after the last hold left, got %+v", st)
	}

	// Declaring the day free again drops holds placed since.
	if _, err := s.ledger.AddBookingHold(ctx, caregiver, date, timewindow.Span{Start: 540, End: 660}, uuid.New()); err != nil {
		t.Fatalf("AddBookingHold: %v", err)
	}
	st, err = s.ledger.SetAvailability(ctx, caregiver, date, availability.SetRequest{FullDayFree: true})
	if err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if st.Kind != availability.StatusFullyFree || len(st.Ranges) != 0 {
		t.Errorf("expected a cleared free day, got %+v", st)
	}
}

func TestAvailabilityRepo_InsertRace(t *testing.T) {
	ctx := context.Background()
	repo := availability.NewRepoPG(globalPool)
	caregiver := uuid.New()
	date := timewindow.NewDate(2026, time.October, 29)

	first := &availability.Day{CaregiverID: caregiver, Date: date, FullDayFree: true, Ranges: []availability.TimeRange{}}
	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	second := &availability.Day{CaregiverID: caregiver, Date: date, Ranges: []availability.TimeRange{}}
	if err := repo.Insert(ctx, second); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict for duplicate day, got %v", err)
	}

	stale := *first
	first.FullDayFree = false
	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := repo.Update(ctx, &stale); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("expected Conflict for stale version, got %v", err)
	}
}
