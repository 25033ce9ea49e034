package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/platform/lock"
)

type denyLocker struct{ err error }

func (d denyLocker) Acquire(context.Context, string, time.Duration) (lock.ReleaseFunc, bool, error) {
	return nil, false, d.err
}

type countingLocker struct {
	acquired, released int
	ttl                time.Duration
}

func (c *countingLocker) Acquire(_ context.Context, key string, ttl time.Duration) (lock.ReleaseFunc, bool, error) {
	if key != SweepLockKey {
		return nil, false, errors.New("unexpected key " + key)
	}
	c.acquired++
	c.ttl = ttl
	return func(context.Context) error { c.released++; return nil }, true, nil
}

func TestSweeper_RunOnce(t *testing.T) {
	f := newFixture()
	soon := f.create(t, f.request(t, uuid.New(), f.today.AddDays(1), "09:00", "11:00"))
	later := f.create(t, f.request(t, uuid.New(), f.today.AddDays(5), "09:00", "11:00"))
	answered := f.create(t, f.request(t, uuid.New(), f.today.AddDays(1), "13:00", "15:00"))
	f.move(t, answered.ID, StatusConfirmed)

	locker := &countingLocker{}
	sw := NewSweeper(f.svc, locker, nil, zerolog.Nop())

	f.clock.advance(13 * time.Hour)
	n, err := sw.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Errorf("lease not acquired and released: %+v", locker)
	}
	if locker.ttl < time.Minute {
		t.Errorf("lease ttl too short: %s", locker.ttl)
	}

	got, _ := f.svc.GetAppointment(context.Background(), soon.ID)
	if got.Status != StatusCancelled {
		t.Errorf("expected the overdue request cancelled, got %s", got.Status)
	}
	for _, id := range []uuid.UUID{later.ID, answered.ID} {
		a, _ := f.svc.GetAppointment(context.Background(), id)
		if a.Status == StatusCancelled {
			t.Errorf("%s must not be swept", id)
		}
	}
	if f.pub.count("careflow.appointment.cancelled") != 1 {
		t.Errorf("expected one cancellation event, got %v", f.pub.subjects)
	}

	n, err = sw.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second sweep must be a no-op, got %d / %v", n, err)
	}
}

func TestSweeper_LeaseHeldElsewhere(t *testing.T) {
	f := newFixture()
	a := f.create(t, f.request(t, uuid.New(), f.today.AddDays(1), "09:00", "11:00"))
	f.clock.advance(13 * time.Hour)

	n, err := NewSweeper(f.svc, denyLocker{}, nil, zerolog.Nop()).RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected a silent skip, got %d / %v", n, err)
	}
	got, _ := f.svc.GetAppointment(context.Background(), a.ID)
	if got.Status != StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
}

func TestSweeper_LockError(t *testing.T) {
	f := newFixture()
	_, err := NewSweeper(f.svc, denyLocker{err: errors.New("redis down")}, nil, zerolog.Nop()).RunOnce(context.Background())
	if err == nil {
		t.Error("expected the lock error to surface")
	}
}

func TestSweeper_SkipsConflicts(t *testing.T) {
	f := newFixture()
	a := f.create(t, f.request(t, uuid.New(), f.today.AddDays(1), "09:00", "11:00"))
	f.clock.advance(13 * time.Hour)

	f.repo.beforeUpdate = func(*Appointment) {
		f.repo.mu.Lock()
		f.repo.items[a.ID].VersionID++
		f.repo.mu.Unlock()
	}
	n, err := NewSweeper(f.svc, nil, nil, zerolog.Nop()).RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("a lost race must be skipped, got %d / %v", n, err)
	}
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	f := newFixture()
	sw := NewSweeper(f.svc, nil, nil, zerolog.Nop())
	sw.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
