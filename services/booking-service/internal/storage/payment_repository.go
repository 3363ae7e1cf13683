package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type PaymentRepository struct {
	pool *db.Pool
}

func NewPaymentRepository(pool *db.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const intentColumns = `id, appointment_id, amount::text, currency, status, reference, channel, gateway_ref, created_at, updated_at`

func scanIntent(row rowScanner) (model.PaymentIntent, error) {
	var (
		pi     model.PaymentIntent
		amount string
	)
	err := row.Scan(&pi.ID, &pi.AppointmentID, &amount, &pi.Currency, &pi.Status, &pi.Reference, &pi.Channel,
		&pi.GatewayRef, &pi.CreatedAt, &pi.UpdatedAt)
	if err != nil {
		return model.PaymentIntent{}, err
	}
	if pi.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.PaymentIntent{}, err
	}
	return pi, nil
}

// CreateIntent returns ErrDuplicate when the appointment already has an
// intent or the reference is taken.
func (r *PaymentRepository) CreateIntent(ctx context.Context, pi model.PaymentIntent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_intents
			(id, appointment_id, amount, currency, status, reference, channel, gateway_ref, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
	`, pi.ID, pi.AppointmentID, pi.Amount.String(), pi.Currency, pi.Status, pi.Reference, pi.Channel,
		pi.GatewayRef, pi.CreatedAt, pi.UpdatedAt)
	return translate(err)
}

func (r *PaymentRepository) GetIntentByReference(ctx context.Context, reference string) (model.PaymentIntent, error) {
	pi, err := scanIntent(r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE reference = $1`, reference))
	return pi, translate(err)
}

func (r *PaymentRepository) GetIntentByAppointment(ctx context.Context, appointmentID string) (model.PaymentIntent, error) {
	pi, err := scanIntent(r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE appointment_id = $1`, appointmentID))
	return pi, translate(err)
}

func (r *PaymentRepository) SetGatewayRef(ctx context.Context, reference, gatewayRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_intents SET gateway_ref = $2, updated_at = now()
		WHERE reference = $1
	`, reference, gatewayRef)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateIntentStatus moves a pending intent to status. changed is false when
// the intent had already left pending.
func (r *PaymentRepository) UpdateIntentStatus(ctx context.Context, reference string, status model.PaymentIntentStatus) (model.PaymentIntent, bool, error) {
	pi, err := scanIntent(r.pool.QueryRow(ctx, `
		UPDATE payment_intents SET status = $2, updated_at = now()
		WHERE reference = $1 AND status = 'pending'
		RETURNING `+intentColumns, reference, status))
	if err == nil {
		return pi, true, nil
	}
	if !db.IsNoRows(err) {
		return model.PaymentIntent{}, false, err
	}
	pi, err = r.GetIntentByReference(ctx, reference)
	return pi, false, err
}

// ListUnissued returns pending intents the gateway never acknowledged.
func (r *PaymentRepository) ListUnissued(ctx context.Context, olderThan time.Time, limit int) ([]model.PaymentIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE gateway_ref = '' AND status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PaymentIntent
	for rows.Next() {
		pi, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	return out, rows.Err()
}

// RecordProviderEvent stores a gateway webhook event once. It returns false
// when the event was already recorded.
func (r *PaymentRepository) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO payment_provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, provider, eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetProviderEvent removes a recorded event so a redelivery is processed
// again. Used when handling the event failed after it was recorded.
func (r *PaymentRepository) ForgetProviderEvent(ctx context.Context, provider, eventID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM payment_provider_events WHERE provider = $1 AND provider_event_id = $2
	`, provider, eventID)
	return err
}
