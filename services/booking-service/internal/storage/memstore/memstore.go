// Package memstore keeps rules, appointments and payment intents in process
// memory. It backs the memory store mode and the service tests, and enforces
// the same overlap, idempotency and uniqueness rules as the Postgres
// repositories.
package memstore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
)

type idemKey struct {
	farmerID string
	key      string
}

type providerEvent struct {
	provider string
	id       string
}

type Store struct {
	mu           sync.Mutex
	rules        map[string]model.AvailabilityRule
	appointments map[string]model.Appointment
	idempotency  map[idemKey]string
	intents      map[string]model.PaymentIntent // by reference
	events       map[providerEvent]struct{}
}

func New() *Store {
	return &Store{
		rules:        map[string]model.AvailabilityRule{},
		appointments: map[string]model.Appointment{},
		idempotency:  map[idemKey]string{},
		intents:      map[string]model.PaymentIntent{},
		events:       map[providerEvent]struct{}{},
	}
}

func cloneRule(r model.AvailabilityRule) model.AvailabilityRule {
	if r.Date != nil {
		d := *r.Date
		r.Date = &d
	}
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAppointment(a model.Appointment) model.Appointment {
	a.Timeline = slices.Clone(a.Timeline)
	a.ProviderNotes = clonePtr(a.ProviderNotes)
	if a.ProviderNotes != nil {
		a.ProviderNotes.Attachments = slices.Clone(a.ProviderNotes.Attachments)
	}
	a.Cancellation = clonePtr(a.Cancellation)
	a.Livestock = clonePtr(a.Livestock)
	if a.Livestock != nil {
		a.Livestock.PrimarySymptoms = slices.Clone(a.Livestock.PrimarySymptoms)
	}
	a.Location = clonePtr(a.Location)
	return a
}

func (s *Store) CreateRule(_ context.Context, rule model.AvailabilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return storage.ErrDuplicate
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *Store) GetRule(_ context.Context, id string) (model.AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return model.AvailabilityRule{}, storage.ErrNotFound
	}
	return cloneRule(rule), nil
}

func (s *Store) UpdateRule(_ context.Context, id string, fn func(*model.AvailabilityRule) error) (model.AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return model.AvailabilityRule{}, storage.ErrNotFound
	}
	rule = cloneRule(rule)
	if err := fn(&rule); err != nil {
		return model.AvailabilityRule{}, err
	}
	s.rules[id] = cloneRule(rule)
	return rule, nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) ListRules(_ context.Context, f storage.RuleFilter) ([]model.AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AvailabilityRule
	for _, r := range s.rules {
		if f.ProviderID != "" && r.ProviderID != f.ProviderID {
			continue
		}
		if r.Kind != model.RuleRecurring && r.Date != nil {
			if f.From != nil && r.Date.Before(*f.From) {
				continue
			}
			if f.To != nil && f.To.Before(*r.Date) {
				continue
			}
		}
		out = append(out, cloneRule(r))
	}
	slices.SortFunc(out, compareRules)
	return out, nil
}

func (s *Store) RulesForDay(_ context.Context, providerID string, day model.Date) ([]model.AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	weekday := model.WeekdayName(day.Weekday())
	var out []model.AvailabilityRule
	for _, r := range s.rules {
		if r.ProviderID != providerID || !r.Active {
			continue
		}
		if (r.Kind == model.RuleRecurring && r.DayOfWeek == weekday) || (r.Date != nil && *r.Date == day) {
			out = append(out, cloneRule(r))
		}
	}
	slices.SortFunc(out, compareRules)
	return out, nil
}

func compareRules(a, b model.AvailabilityRule) int {
	switch {
	case a.ProviderID != b.ProviderID:
		if a.ProviderID < b.ProviderID {
			return -1
		}
		return 1
	case a.StartTime != b.StartTime:
		return int(a.StartTime) - int(b.StartTime)
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func (s *Store) InsertAppointment(_ context.Context, appt model.Appointment, idempotencyKey string) (model.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if id, ok := s.idempotency[idemKey{appt.FarmerID, idempotencyKey}]; ok {
			return cloneAppointment(s.appointments[id]), true, nil
		}
	}
	if _, ok := s.appointments[appt.ID]; ok {
		return model.Appointment{}, false, storage.ErrDuplicate
	}
	iv := appt.Interval()
	for _, other := range s.appointments {
		if other.ProviderID == appt.ProviderID && other.Status.Active() && other.Interval().Overlaps(iv) {
			return model.Appointment{}, false, storage.ErrOverlap
		}
	}
	s.appointments[appt.ID] = cloneAppointment(appt)
	if idempotencyKey != "" {
		s.idempotency[idemKey{appt.FarmerID, idempotencyKey}] = appt.ID
	}
	return cloneAppointment(appt), false, nil
}

func (s *Store) UpdateAppointment(_ context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	appt = cloneAppointment(appt)
	seen := len(appt.Timeline)
	if err := fn(&appt); err != nil {
		return model.Appointment{}, err
	}
	if len(appt.Timeline) < seen {
		return model.Appointment{}, errors.New("timeline entries cannot be removed")
	}
	s.appointments[id] = cloneAppointment(appt)
	return appt, nil
}

func (s *Store) AppointmentByIdempotencyKey(_ context.Context, farmerID, key string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idempotency[idemKey{farmerID, key}]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return cloneAppointment(s.appointments[id]), nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return cloneAppointment(appt), nil
}

func (s *Store) ListAppointments(_ context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if f.FarmerID != "" && a.FarmerID != f.FarmerID {
			continue
		}
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, cloneAppointment(a))
	}
	sortBySchedule(out)
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ActiveAppointments(_ context.Context, providerID string, window model.Interval) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.ProviderID == providerID && a.Status.Active() && a.Interval().Overlaps(window) {
			out = append(out, cloneAppointment(a))
		}
	}
	sortBySchedule(out)
	return out, nil
}

func (s *Store) AwaitingPaymentIntent(_ context.Context, olderThan time.Time, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued := make(map[string]bool, len(s.intents))
	for _, pi := range s.intents {
		issued[pi.AppointmentID] = true
	}
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.Status == model.StatusPending && a.PaymentStatus == model.PaymentPending &&
			a.CreatedAt.Before(olderThan) && !issued[a.ID] {
			out = append(out, cloneAppointment(a))
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortBySchedule(appts []model.Appointment) {
	slices.SortFunc(appts, func(a, b model.Appointment) int {
		if c := a.ScheduledFor.Compare(b.ScheduledFor); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

func (s *Store) CreateIntent(_ context.Context, pi model.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[pi.Reference]; ok {
		return storage.ErrDuplicate
	}
	for _, other := range s.intents {
		if other.AppointmentID == pi.AppointmentID {
			return storage.ErrDuplicate
		}
	}
	s.intents[pi.Reference] = pi
	return nil
}

func (s *Store) GetIntentByReference(_ context.Context, reference string) (model.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.intents[reference]
	if !ok {
		return model.PaymentIntent{}, storage.ErrNotFound
	}
	return pi, nil
}

func (s *Store) GetIntentByAppointment(_ context.Context, appointmentID string) (model.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pi := range s.intents {
		if pi.AppointmentID == appointmentID {
			return pi, nil
		}
	}
	return model.PaymentIntent{}, storage.ErrNotFound
}

func (s *Store) SetGatewayRef(_ context.Context, reference, gatewayRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.intents[reference]
	if !ok {
		return storage.ErrNotFound
	}
	pi.GatewayRef = gatewayRef
	pi.UpdatedAt = time.Now().UTC()
	s.intents[reference] = pi
	return nil
}

func (s *Store) UpdateIntentStatus(_ context.Context, reference string, status model.PaymentIntentStatus) (model.PaymentIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.intents[reference]
	if !ok {
		return model.PaymentIntent{}, false, storage.ErrNotFound
	}
	if pi.Status != model.IntentPending {
		return pi, false, nil
	}
	pi.Status = status
	pi.UpdatedAt = time.Now().UTC()
	s.intents[reference] = pi
	return pi, true, nil
}

func (s *Store) ListUnissued(_ context.Context, olderThan time.Time, limit int) ([]model.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PaymentIntent
	for _, pi := range s.intents {
		if pi.GatewayRef == "" && pi.Status == model.IntentPending && pi.CreatedAt.Before(olderThan) {
			out = append(out, pi)
		}
	}
	slices.SortFunc(out, func(a, b model.PaymentIntent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordProviderEvent(_ context.Context, provider, eventID, _ string, _ []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := providerEvent{provider, eventID}
	if _, ok := s.events[k]; ok {
		return false, nil
	}
	s.events[k] = struct{}{}
	return true, nil
}

func (s *Store) ForgetProviderEvent(_ context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, providerEvent{provider, eventID})
	return nil
}
