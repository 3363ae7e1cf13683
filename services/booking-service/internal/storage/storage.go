package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrOverlap   = errors.New("storage: overlaps an active appointment")
	ErrDuplicate = errors.New("storage: duplicate key")
)

// RuleFilter selects availability rules. Recurring rules always match a date
// range; dated rules must fall inside it.
type RuleFilter struct {
	ProviderID string
	From       *model.Date
	To         *model.Date
}

type AppointmentFilter struct {
	FarmerID   string
	ProviderID string
	Status     model.AppointmentStatus
	Limit      int
}

const DefaultListLimit = 200

func (f AppointmentFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return f.Limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.HasCode(err, db.CodeExclusionViolation):
		return ErrOverlap
	case db.HasCode(err, db.CodeUniqueViolation):
		return ErrDuplicate
	default:
		return err
	}
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable[T any](raw []byte) (*T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func dateParam(d *model.Date) any {
	if d == nil {
		return nil
	}
	return d.Midnight(time.UTC)
}
