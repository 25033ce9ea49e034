package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the appointment store. GetByID returns apperr.NotFound for
// unknown ids. Update is a compare-and-set on VersionID: it fails with
// apperr.Conflict when the stored version differs and bumps a.VersionID on
// success.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f Filter) ([]*Appointment, int, error)
	ListByCaregiverStatus(ctx context.Context, caregiverID uuid.UUID, status Status) ([]*Appointment, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Appointment, error)
	// Transition history
	AppendTransition(ctx context.Context, rec *TransitionRecord) error
	ListTransitions(ctx context.Context, appointmentID uuid.UUID) ([]*TransitionRecord, error)
}
