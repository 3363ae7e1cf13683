package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type ProviderRepository struct {
	pool *db.Pool
}

func NewProviderRepository(pool *db.Pool) *ProviderRepository {
	return &ProviderRepository{pool: pool}
}

func (r *ProviderRepository) Provider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := r.pool.QueryRow(ctx, `SELECT id, name, timezone FROM providers WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Timezone)
	if err != nil {
		return model.Provider{}, translate(err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT code, name, description, base_fee::text, currency
		FROM provider_services
		WHERE provider_id = $1
		ORDER BY code
	`, id)
	if err != nil {
		return model.Provider{}, err
	}
	defer rows.Close()

	p.Services = []model.Service{}
	for rows.Next() {
		var (
			s   model.Service
			fee string
		)
		if err := rows.Scan(&s.Code, &s.Name, &s.Description, &fee, &s.Currency); err != nil {
			return model.Provider{}, err
		}
		if s.BaseFee, err = decimal.NewFromString(fee); err != nil {
			return model.Provider{}, err
		}
		p.Services = append(p.Services, s)
	}
	return p, rows.Err()
}

// Upsert replaces the provider and its full service list.
func (r *ProviderRepository) Upsert(ctx context.Context, p model.Provider) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, timezone)
			VALUES ($1, $2, $3)
			ON CONFLICT (id)
			DO UPDATE SET name = EXCLUDED.name,
			              timezone = EXCLUDED.timezone,
			              updated_at = now()
		`, p.ID, p.Name, p.Timezone); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM provider_services WHERE provider_id = $1`, p.ID); err != nil {
			return err
		}
		for _, s := range p.Services {
			if _, err := tx.Exec(ctx, `
				INSERT INTO provider_services (provider_id, code, name, description, base_fee, currency)
				VALUES ($1, $2, $3, $4, $5::numeric, $6)
			`, p.ID, s.Code, s.Name, s.Description, s.BaseFee.String(), s.Currency); err != nil {
				return err
			}
		}
		return nil
	})
}
