package appointment

import (
	"testing"

	"github.com/google/uuid"
)

func job(name, phone, location string) *Appointment {
	a := &Appointment{ID: uuid.New(), Status: StatusInProgress, ContactName: name, Location: location}
	if phone != "" {
		a.ContactPhone = &phone
	}
	return a
}

func TestDetectStartConflict(t *testing.T) {
	cases := []struct {
		name      string
		candidate *Appointment
		running   *Appointment
		conflict  bool
	}{
		{"same phone and address", job("An", "0900000001", "12 Main St"), job("Bình", "0900-000-001", "12 main st "), false},
		{"different phone same address", job("An", "0900000002", "12 Main St"), job("An", "0900000001", "12 Main St"), true},
		{"same phone different address", job("An", "0900000001", "14 Main St"), job("An", "0900000001", "12 Main St"), true},
		{"names when a phone is missing", job("Nguyễn  Văn An", "", "12 Main St"), job("nguyễn văn an", "0900000001", "12 Main St"), false},
		{"different names no phones", job("An", "", "12 Main St"), job("Bình", "", "12 Main St"), true},
		{"blank names never match", job("", "", "12 Main St"), job("", "", "12 Main St"), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DetectStartConflict(c.candidate, []*Appointment{c.running})
			if (got != nil) != c.conflict {
				t.Fatalf("conflict = %+v, want %v", got, c.conflict)
			}
			if got != nil && (got.BlockingID != c.running.ID || got.OtherLocation != c.running.Location) {
				t.Errorf("unexpected conflict %+v", got)
			}
		})
	}
}

func TestDetectStartConflict_IgnoresSelfAndIdle(t *testing.T) {
	candidate := job("An", "0900000001", "12 Main St")
	self := *candidate
	idle := job("Bình", "0900000009", "99 Other Rd")
	idle.Status = StatusConfirmed

	if got := DetectStartConflict(candidate, []*Appointment{&self, idle}); got != nil {
		t.Errorf("expected no conflict, got %+v", got)
	}
	if got := DetectStartConflict(candidate, nil); got != nil {
		t.Errorf("expected no conflict with nothing running, got %+v", got)
	}
}

func TestDetectStartConflict_FirstIncompatibleWins(t *testing.T) {
	candidate := job("An", "0900000001", "12 Main St")
	ok := job("An", "0900000001", "12 Main St")
	first := job("Bình", "0900000002", "20 Side St")
	second := job("Chi", "0900000003", "30 Far Rd")

	got := DetectStartConflict(candidate, []*Appointment{ok, first, second})
	if got == nil || got.BlockingID != first.ID || got.OtherPartyName != "Bình" {
		t.Errorf("expected %s, got %+v", first.ID, got)
	}
}
