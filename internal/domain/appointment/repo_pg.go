package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/pkg/timewindow"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, requester_id, caregiver_id, care_recipient_id, contact_name, contact_phone,
	location, service_date, start_minute, end_minute, package_label, amount, payment_status,
	status, response_deadline, cancellation_reason, tasks, version_id, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a             Appointment
		serviceDate   time.Time
		start         int
		end           *int
		paymentStatus string
		status        string
	)
	err := row.Scan(&a.ID, &a.RequesterID, &a.CaregiverID, &a.CareRecipientID, &a.ContactName, &a.ContactPhone,
		&a.Location, &serviceDate, &start, &end, &a.PackageLabel, &a.Amount, &paymentStatus,
		&status, &a.ResponseDeadline, &a.CancellationReason, &a.Tasks, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ServiceDate = timewindow.DateOf(serviceDate, time.UTC)
	a.StartMinute = timewindow.Minute(start)
	if end != nil {
		m := timewindow.Minute(*end)
		a.EndMinute = &m
	}
	a.PaymentStatus = PaymentStatus(paymentStatus)
	a.Status = Status(status)
	return &a, nil
}

func endArg(m *timewindow.Minute) *int {
	if m == nil {
		return nil
	}
	v := int(*m)
	return &v
}

func tasksArg(tasks []Task) []Task {
	if tasks == nil {
		return []Task{}
	}
	return tasks
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, requester_id, caregiver_id, care_recipient_id, contact_name, contact_phone,
			location, service_date, start_minute, end_minute, package_label, amount, payment_status,
			status, response_deadline, cancellation_reason, tasks, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::date,$9,$10,$11,$12,$13,$14,$15,$16,$17,1)
		RETURNING version_id, created_at, updated_at`,
		a.ID, a.RequesterID, a.CaregiverID, a.CareRecipientID, a.ContactName, a.ContactPhone,
		a.Location, a.ServiceDate.String(), int(a.StartMinute), endArg(a.EndMinute), a.PackageLabel, a.Amount,
		string(a.PaymentStatus), string(a.Status), a.ResponseDeadline, a.CancellationReason, tasksArg(a.Tasks),
	).Scan(&a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// Update writes every mutable column guarded by the caller's version.
func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status=$3, response_deadline=$4, cancellation_reason=$5, tasks=$6,
			payment_status=$7, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		a.ID, a.VersionID, string(a.Status), a.ResponseDeadline, a.CancellationReason, tasksArg(a.Tasks),
		string(a.PaymentStatus),
	).Scan(&a.VersionID, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.Conflict, "appointment %s changed, reload and retry", a.ID).
			With("version_id", a.VersionID)
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) List(ctx context.Context, f Filter) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.RequesterID != nil {
		where += fmt.Sprintf(` AND requester_id = $%d`, idx)
		args = append(args, *f.RequesterID)
		idx++
	}
	if f.CaregiverID != nil {
		where += fmt.Sprintf(` AND caregiver_id = $%d`, idx)
		args = append(args, *f.CaregiverID)
		idx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(*f.Status))
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND service_date >= $%d::date`, idx)
		args = append(args, f.From.String())
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND service_date <= $%d::date`, idx)
		args = append(args, f.To.String())
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY service_date, start_minute, created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan appointments: %w", err)
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ListByCaregiverStatus(ctx context.Context, caregiverID uuid.UUID, status Status) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE caregiver_id = $1 AND status = $2 ORDER BY updated_at`,
		caregiverID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list caregiver appointments: %w", err)
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment
		WHERE status = 'pending' AND response_deadline < $1
		ORDER BY response_deadline LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue appointments: %w", err)
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) AppendTransition(ctx context.Context, rec *TransitionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_transition (id, appointment_id, from_status, to_status, actor_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING occurred_at`,
		rec.ID, rec.AppointmentID, string(rec.From), string(rec.To), rec.ActorID, rec.Reason,
	).Scan(&rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) ListTransitions(ctx context.Context, appointmentID uuid.UUID) ([]*TransitionRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, from_status, to_status, actor_id, reason, occurred_at
		FROM appointment_transition WHERE appointment_id = $1 ORDER BY occurred_at, id`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var items []*TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		var from, to string
		if err := rows.Scan(&rec.ID, &rec.AppointmentID, &from, &to, &rec.ActorID, &rec.Reason, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		rec.From, rec.To = Status(from), Status(to)
		items = append(items, &rec)
	}
	return items, rows.Err()
}
