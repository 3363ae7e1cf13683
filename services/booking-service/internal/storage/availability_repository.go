package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

const ruleColumns = `id, provider_id, kind, COALESCE(day_of_week, ''), rule_date, start_minute, end_minute,
	slot_minutes, active, reason, created_at, updated_at`

func scanRule(row rowScanner) (model.AvailabilityRule, error) {
	var (
		rule       model.AvailabilityRule
		date       *time.Time
		start, end int16
	)
	err := row.Scan(&rule.ID, &rule.ProviderID, &rule.Kind, &rule.DayOfWeek, &date, &start, &end,
		&rule.SlotDurationMinutes, &rule.Active, &rule.Reason, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	if date != nil {
		d := model.DateOf(date.UTC())
		rule.Date = &d
	}
	rule.StartTime = model.ClockTime(start)
	rule.EndTime = model.ClockTime(end)
	return rule, nil
}

func nullableWeekday(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *AvailabilityRepository) CreateRule(ctx context.Context, rule model.AvailabilityRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_rules
			(id, provider_id, kind, day_of_week, rule_date, start_minute, end_minute, slot_minutes, active, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rule.ID, rule.ProviderID, rule.Kind, nullableWeekday(rule.DayOfWeek), dateParam(rule.Date),
		int16(rule.StartTime), int16(rule.EndTime), rule.SlotDurationMinutes, rule.Active, rule.Reason,
		rule.CreatedAt, rule.UpdatedAt)
	return translate(err)
}

func (r *AvailabilityRepository) GetRule(ctx context.Context, id string) (model.AvailabilityRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM availability_rules WHERE id = $1`, id))
	return rule, translate(err)
}

// UpdateRule applies fn to the locked row and writes the result back.
func (r *AvailabilityRepository) UpdateRule(ctx context.Context, id string, fn func(*model.AvailabilityRule) error) (model.AvailabilityRule, error) {
	var out model.AvailabilityRule
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		rule, err := scanRule(tx.QueryRow(ctx, `SELECT `+ruleColumns+` FROM availability_rules WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&rule); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE availability_rules
			SET kind = $2, day_of_week = $3, rule_date = $4, start_minute = $5, end_minute = $6,
				slot_minutes = $7, active = $8, reason = $9, updated_at = $10
			WHERE id = $1
		`, rule.ID, rule.Kind, nullableWeekday(rule.DayOfWeek), dateParam(rule.Date), int16(rule.StartTime),
			int16(rule.EndTime), rule.SlotDurationMinutes, rule.Active, rule.Reason, rule.UpdatedAt)
		if err != nil {
			return err
		}
		out = rule
		return nil
	})
	return out, translate(err)
}

func (r *AvailabilityRepository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_rules WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AvailabilityRepository) ListRules(ctx context.Context, f RuleFilter) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE ($1 = '' OR provider_id = $1)
			AND (
				kind = 'recurring'
				OR (($2::date IS NULL OR rule_date >= $2::date) AND ($3::date IS NULL OR rule_date <= $3::date))
			)
		ORDER BY provider_id, rule_date NULLS FIRST, start_minute, id
	`, f.ProviderID, dateParam(f.From), dateParam(f.To))
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// RulesForDay returns the active rules of any kind that can apply to day.
func (r *AvailabilityRepository) RulesForDay(ctx context.Context, providerID string, day model.Date) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE provider_id = $1
			AND active
			AND ((kind = 'recurring' AND day_of_week = $2) OR rule_date = $3::date)
		ORDER BY start_minute, id
	`, providerID, model.WeekdayName(day.Weekday()), day.Midnight(time.UTC))
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]model.AvailabilityRule, error) {
	defer rows.Close()
	var rules []model.AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
