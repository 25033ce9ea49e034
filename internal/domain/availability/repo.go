package availability

import (
	"context"

	"github.com/google/uuid"

	"github.com/careflow/careflow/pkg/timewindow"
)

// Repository stores one row per (caregiver, date). Get returns an
// apperr.NotFound error when the day was never declared. Insert and Update
// are compare-and-set on VersionID and fail with apperr.Conflict when the
// row changed underneath the caller; both bump d.VersionID on success.
type Repository interface {
	Get(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (*Day, error)
	Insert(ctx context.Context, d *Day) error
	Update(ctx context.Context, d *Day) error
}
