package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/pkg/timewindow"
)

type dayRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &dayRepoPG{pool: pool} }

func (r *dayRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const dayCols = `caregiver_id, day, full_day_free, declared_free, ranges, version_id, updated_at`

func (r *dayRepoPG) scanDay(row pgx.Row) (*Day, error) {
	var d Day
	var day time.Time
	if err := row.Scan(&d.CaregiverID, &day, &d.FullDayFree, &d.DeclaredFree, &d.Ranges, &d.VersionID, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Date = timewindow.DateOf(day, time.UTC)
	return &d, nil
}

func (r *dayRepoPG) Get(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (*Day, error) {
	d, err := r.scanDay(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dayCols+` FROM availability_day WHERE caregiver_id = $1 AND day = $2::date`,
		caregiverID, date.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no availability declared for %s", date)
	}
	if err != nil {
		return nil, fmt.Errorf("get availability day: %w", err)
	}
	return d, nil
}

func (r *dayRepoPG) Insert(ctx context.Context, d *Day) error {
	if d.Ranges == nil {
		d.Ranges = []TimeRange{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_day (caregiver_id, day, full_day_free, declared_free, ranges, version_id)
		VALUES ($1, $2::date, $3, $4, $5, 1)
		RETURNING version_id, updated_at`,
		d.CaregiverID, d.Date.String(), d.FullDayFree, d.DeclaredFree, d.Ranges,
	).Scan(&d.VersionID, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.New(apperr.Conflict, "availability for %s was created concurrently", d.Date)
		}
		return fmt.Errorf("insert availability day: %w", err)
	}
	return nil
}

func (r *dayRepoPG) Update(ctx context.Context, d *Day) error {
	if d.Ranges == nil {
		d.Ranges = []TimeRange{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE availability_day
		SET full_day_free = $4, declared_free = $5, ranges = $6, version_id = version_id + 1, updated_at = NOW()
		WHERE caregiver_id = $1 AND day = $2::date AND version_id = $3
		RETURNING version_id, updated_at`,
		d.CaregiverID, d.Date.String(), d.VersionID, d.FullDayFree, d.DeclaredFree, d.Ranges,
	).Scan(&d.VersionID, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.Conflict, "availability for %s changed, reload and retry", d.Date).
			With("version_id", d.VersionID)
	}
	if err != nil {
		return fmt.Errorf("update availability day: %w", err)
	}
	return nil
}
