package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const appointmentColumns = `id, farmer_id, provider_id, service_id, service_name, service_fee::text, service_currency,
	scheduled_for, scheduled_until, duration_minutes, mode, status, payment_status, payment_reference,
	farmer_notes, provider_notes, cancellation, livestock, location, meeting_link, created_at, updated_at`

func activeStatusNames() []string {
	out := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

// InsertAppointment stores appt and its timeline if no active appointment of
// the same provider overlaps it. Bookings for one provider are serialised by a
// transaction-scoped advisory lock; the appointments_no_overlap exclusion
// constraint backs the check. A repeated idempotency key for the same farmer
// returns the stored appointment with replayed=true. Requests sharing a key
// take a second lock first, so they serialise even when they name different
// providers.
func (r *BookingRepository) InsertAppointment(ctx context.Context, appt model.Appointment, idempotencyKey string) (model.Appointment, bool, error) {
	var (
		out      model.Appointment
		replayed bool
	)
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if idempotencyKey != "" {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 1))`,
				appt.FarmerID, idempotencyKey); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, appt.ProviderID); err != nil {
			return err
		}

		if idempotencyKey != "" {
			existing, err := r.byIdempotencyKey(ctx, tx, appt.FarmerID, idempotencyKey)
			if err == nil {
				out, replayed = existing, true
				return nil
			}
			if !db.IsNoRows(err) {
				return err
			}
		}

		var clash bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE provider_id = $1
					AND status = ANY($2)
					AND scheduled_for < $4
					AND scheduled_until > $3
			)
		`, appt.ProviderID, activeStatusNames(), appt.ScheduledFor, appt.ScheduledUntil).Scan(&clash)
		if err != nil {
			return err
		}
		if clash {
			return ErrOverlap
		}

		if err := insertAppointmentRow(ctx, tx, appt); err != nil {
			return err
		}
		if err := insertTimeline(ctx, tx, appt.ID, appt.Timeline); err != nil {
			return err
		}
		if idempotencyKey != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO booking_idempotency_keys (farmer_id, idempotency_key, appointment_id)
				VALUES ($1, $2, $3)
			`, appt.FarmerID, idempotencyKey, appt.ID); err != nil {
				return err
			}
		}
		out = appt
		return nil
	})
	return out, replayed, translate(err)
}

// AppointmentByIdempotencyKey returns the appointment a farmer booked under key.
func (r *BookingRepository) AppointmentByIdempotencyKey(ctx context.Context, farmerID, key string) (model.Appointment, error) {
	appt, err := r.byIdempotencyKey(ctx, r.pool, farmerID, key)
	return appt, translate(err)
}

func (r *BookingRepository) byIdempotencyKey(ctx context.Context, q db.Querier, farmerID, key string) (model.Appointment, error) {
	var id string
	err := q.QueryRow(ctx, `
		SELECT appointment_id FROM booking_idempotency_keys
		WHERE farmer_id = $1 AND idempotency_key = $2
	`, farmerID, key).Scan(&id)
	if err != nil {
		return model.Appointment{}, err
	}
	return r.get(ctx, q, id, false)
}

func insertAppointmentRow(ctx context.Context, tx pgx.Tx, a model.Appointment) error {
	notes, err := marshalNullable(a.ProviderNotes)
	if err != nil {
		return err
	}
	cancellation, err := marshalNullable(a.Cancellation)
	if err != nil {
		return err
	}
	livestock, err := marshalNullable(a.Livestock)
	if err != nil {
		return err
	}
	location, err := marshalNullable(a.Location)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, farmer_id, provider_id, service_id, service_name, service_fee, service_currency,
			 scheduled_for, scheduled_until, duration_minutes, mode, status, payment_status, payment_reference,
			 farmer_notes, provider_notes, cancellation, livestock, location, meeting_link, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, a.ID, a.FarmerID, a.ProviderID, a.Service.ID, a.Service.Name, a.Service.Fee.String(), a.Service.Currency,
		a.ScheduledFor, a.ScheduledUntil, a.DurationMinutes, a.Mode, a.Status, a.PaymentStatus, a.PaymentReference,
		a.FarmerNotes, notes, cancellation, livestock, location, a.MeetingLink, a.CreatedAt, a.UpdatedAt)
	return err
}

func insertTimeline(ctx context.Context, tx pgx.Tx, appointmentID string, entries []model.TimelineEntry) error {
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_timeline (appointment_id, status, actor, comment, at)
			VALUES ($1, $2, $3, $4, $5)
		`, appointmentID, e.Status, e.Actor, e.Comment, e.At); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAppointment applies fn to the row-locked appointment. Only timeline
// entries appended by fn are written; existing entries are never rewritten.
func (r *BookingRepository) UpdateAppointment(ctx context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error) {
	var out model.Appointment
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		appt, err := r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		seen := len(appt.Timeline)
		if err := fn(&appt); err != nil {
			return err
		}
		if len(appt.Timeline) < seen {
			return errors.New("timeline entries cannot be removed")
		}

		notes, err := marshalNullable(appt.ProviderNotes)
		if err != nil {
			return err
		}
		cancellation, err := marshalNullable(appt.Cancellation)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET scheduled_for = $2, scheduled_until = $3, duration_minutes = $4, status = $5,
				payment_status = $6, payment_reference = $7, provider_notes = $8, cancellation = $9,
				meeting_link = $10, updated_at = $11
			WHERE id = $1
		`, appt.ID, appt.ScheduledFor, appt.ScheduledUntil, appt.DurationMinutes, appt.Status,
			appt.PaymentStatus, appt.PaymentReference, notes, cancellation, appt.MeetingLink, appt.UpdatedAt)
		if err != nil {
			return err
		}
		if err := insertTimeline(ctx, tx, appt.ID, appt.Timeline[seen:]); err != nil {
			return err
		}
		out = appt
		return nil
	})
	return out, translate(err)
}

func (r *BookingRepository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := r.get(ctx, r.pool, id, false)
	return appt, translate(err)
}

func (r *BookingRepository) get(ctx context.Context, q db.Querier, id string, forUpdate bool) (model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	appt, err := scanAppointment(q.QueryRow(ctx, query, id))
	if err != nil {
		return model.Appointment{}, err
	}
	timelines, err := loadTimelines(ctx, q, []string{appt.ID})
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Timeline = timelines[appt.ID]
	return appt, nil
}

func (r *BookingRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR farmer_id = $1)
			AND ($2 = '' OR provider_id = $2)
			AND ($3 = '' OR status = $3)
		ORDER BY scheduled_for ASC, id
		LIMIT $4
	`, f.FarmerID, f.ProviderID, string(f.Status), f.EffectiveLimit())
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

// ActiveAppointments returns the provider's active appointments intersecting window.
func (r *BookingRepository) ActiveAppointments(ctx context.Context, providerID string, window model.Interval) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND status = ANY($2)
			AND scheduled_for < $4
			AND scheduled_until > $3
		ORDER BY scheduled_for ASC
	`, providerID, activeStatusNames(), window.Start, window.End)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

// AwaitingPaymentIntent returns fee-bearing pending appointments created
// before olderThan that have no payment intent.
func (r *BookingRepository) AwaitingPaymentIntent(ctx context.Context, olderThan time.Time, limit int) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.status = 'pending'
			AND a.payment_status = 'pending'
			AND a.created_at < $1
			AND NOT EXISTS (SELECT 1 FROM payment_intents p WHERE p.appointment_id = a.id)
		ORDER BY a.created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *BookingRepository) collect(ctx context.Context, rows pgx.Rows) ([]model.Appointment, error) {
	appts, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return appts, nil
	}

	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	timelines, err := loadTimelines(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range appts {
		appts[i].Timeline = timelines[appts[i].ID]
	}
	return appts, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func loadTimelines(ctx context.Context, q db.Querier, ids []string) (map[string][]model.TimelineEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT appointment_id, status, actor, comment, at
		FROM appointment_timeline
		WHERE appointment_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.TimelineEntry, len(ids))
	for rows.Next() {
		var id string
		var e model.TimelineEntry
		if err := rows.Scan(&id, &e.Status, &e.Actor, &e.Comment, &e.At); err != nil {
			return nil, err
		}
		out[id] = append(out[id], e)
	}
	return out, rows.Err()
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var (
		a                                        model.Appointment
		fee                                      string
		notes, cancellation, livestock, location []byte
	)
	err := row.Scan(&a.ID, &a.FarmerID, &a.ProviderID, &a.Service.ID, &a.Service.Name, &fee, &a.Service.Currency,
		&a.ScheduledFor, &a.ScheduledUntil, &a.DurationMinutes, &a.Mode, &a.Status, &a.PaymentStatus, &a.PaymentReference,
		&a.FarmerNotes, &notes, &cancellation, &livestock, &location, &a.MeetingLink, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	if a.Service.Fee, err = decimal.NewFromString(fee); err != nil {
		return model.Appointment{}, err
	}
	if a.ProviderNotes, err = unmarshalNullable[model.ProviderNotes](notes); err != nil {
		return model.Appointment{}, err
	}
	if a.Cancellation, err = unmarshalNullable[model.Cancellation](cancellation); err != nil {
		return model.Appointment{}, err
	}
	if a.Livestock, err = unmarshalNullable[model.Livestock](livestock); err != nil {
		return model.Appointment{}, err
	}
	if a.Location, err = unmarshalNullable[model.Location](location); err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}
