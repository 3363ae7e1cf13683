package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appointment(id, provider string, start time.Time, minutes int) model.Appointment {
	a := model.Appointment{
		ID:         id,
		FarmerID:   "farmer-1",
		ProviderID: provider,
		Status:     model.StatusRequested,
		CreatedAt:  start.Add(-time.Hour),
	}
	a.Schedule(start, minutes)
	return a
}

func TestInsertAppointmentRejectsOverlapOnlyForActive(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, _, err := s.InsertAppointment(ctx, appointment("a1", "vet-1", start, 60), "")
	require.NoError(t, err)

	_, _, err = s.InsertAppointment(ctx, appointment("a2", "vet-1", start.Add(30*time.Minute), 60), "")
	assert.ErrorIs(t, err, storage.ErrOverlap)

	_, _, err = s.InsertAppointment(ctx, appointment("a3", "vet-2", start, 60), "")
	require.NoError(t, err, "other providers are independent")

	_, _, err = s.InsertAppointment(ctx, appointment("a4", "vet-1", start.Add(time.Hour), 60), "")
	require.NoError(t, err, "touching intervals do not overlap")

	_, err = s.UpdateAppointment(ctx, "a1", func(a *model.Appointment) error {
		a.Transition(model.StatusCancelled, "farmer-1", "", start)
		return nil
	})
	require.NoError(t, err)
	_, _, err = s.InsertAppointment(ctx, appointment("a5", "vet-1", start, 60), "")
	require.NoError(t, err, "cancelled appointments release their time")
}

func TestInsertAppointmentConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		clashes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.InsertAppointment(ctx, appointment(fmt.Sprintf("a%d", i), "vet-1", start, 60), "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if err == storage.ErrOverlap {
				clashes++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, clashes)
}

func TestInsertAppointmentIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first, replayed, err := s.InsertAppointment(ctx, appointment("a1", "vet-1", start, 60), "key-1")
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := s.InsertAppointment(ctx, appointment("a2", "vet-1", start, 60), "key-1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)

	found, err := s.AppointmentByIdempotencyKey(ctx, "farmer-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = s.AppointmentByIdempotencyKey(ctx, "farmer-2", "key-1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "keys are scoped to the farmer")
}

func TestInsertAppointmentSharedKeyAcrossProviders(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			appt := appointment(fmt.Sprintf("a%d", i), fmt.Sprintf("vet-%d", i), start, 60)
			got, _, err := s.InsertAppointment(ctx, appt, "key-1")
			if assert.NoError(t, err) {
				ids <- got.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	distinct := map[string]bool{}
	for id := range ids {
		distinct[id] = true
	}
	assert.Len(t, distinct, 1, "every request with the key resolves to one appointment")
}

func TestUpdateAppointmentKeepsTimeline(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := appointment("a1", "vet-1", start, 60)
	a.Transition(model.StatusRequested, "farmer-1", "", start)
	_, _, err := s.InsertAppointment(ctx, a, "")
	require.NoError(t, err)

	_, err = s.UpdateAppointment(ctx, "a1", func(a *model.Appointment) error {
		a.Timeline = nil
		return nil
	})
	require.Error(t, err)

	got, err := s.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got.Timeline, 1)

	got.Timeline[0].Actor = "mutated"
	again, err := s.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "farmer-1", again.Timeline[0].Actor)
}

func TestListRulesDateRange(t *testing.T) {
	ctx := context.Background()
	s := New()
	d1 := model.Date{Year: 2026, Month: 3, Day: 2}
	d2 := model.Date{Year: 2026, Month: 3, Day: 20}
	require.NoError(t, s.CreateRule(ctx, model.AvailabilityRule{ID: "r1", ProviderID: "vet-1", Kind: model.RuleRecurring, DayOfWeek: "monday", StartTime: 480, EndTime: 720, Active: true}))
	require.NoError(t, s.CreateRule(ctx, model.AvailabilityRule{ID: "r2", ProviderID: "vet-1", Kind: model.RuleOneTime, Date: &d1, StartTime: 480, EndTime: 720, Active: true}))
	require.NoError(t, s.CreateRule(ctx, model.AvailabilityRule{ID: "r3", ProviderID: "vet-1", Kind: model.RuleBlocked, Date: &d2, StartTime: 480, EndTime: 720, Active: true}))

	from := model.Date{Year: 2026, Month: 3, Day: 10}
	rules, err := s.ListRules(ctx, storage.RuleFilter{ProviderID: "vet-1", From: &from})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"r1", "r3"}, ids)
}

func TestIntentUniquenessAndSettlement(t *testing.T) {
	ctx := context.Background()
	s := New()
	pi := model.PaymentIntent{ID: "p1", AppointmentID: "a1", Reference: "ANI-1-ABCDEF", Status: model.IntentPending}
	require.NoError(t, s.CreateIntent(ctx, pi))

	dup := pi
	dup.ID, dup.Reference = "p2", "ANI-2-ABCDEF"
	assert.ErrorIs(t, s.CreateIntent(ctx, dup), storage.ErrDuplicate)

	_, changed, err := s.UpdateIntentStatus(ctx, pi.Reference, model.IntentPaid)
	require.NoError(t, err)
	assert.True(t, changed)
	got, changed, err := s.UpdateIntentStatus(ctx, pi.Reference, model.IntentFailed)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.IntentPaid, got.Status)
}
