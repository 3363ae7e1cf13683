package booking

import (
	"context"
	"fmt"
	"testing"

	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []model.AppointmentStatus{
	model.StatusRequested, model.StatusPending, model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled,
}

// seed stores an appointment in the given status without going through booking.
func (f *fixture) seed(t *testing.T, id string, status model.AppointmentStatus) model.Appointment {
	t.Helper()
	appt := model.Appointment{
		ID:            id,
		FarmerID:      farmerID,
		ProviderID:    vetID,
		Service:       model.ServiceSelection{Name: "Consultation", Currency: "UGX"},
		Mode:          model.ModeField,
		PaymentStatus: model.PaymentNotRequired,
		CreatedAt:     f.now,
	}
	appt.Schedule(at(monday, 9, 0), 60)
	appt.Transition(status, farmerID, "", f.now)
	stored, _, err := f.store.InsertAppointment(context.Background(), appt, "")
	require.NoError(t, err)
	return stored
}

func TestUpdateStatusClosure(t *testing.T) {
	roles := []model.Principal{farmer, vet, admin}
	for _, from := range allStatuses {
		for _, p := range roles {
			for _, to := range allStatuses {
				name := fmt.Sprintf("%s/%s/%s", from, p.Role, to)
				t.Run(name, func(t *testing.T) {
					f := newFixture(t, false)
					before := f.seed(t, "appt", from)

					allowed := policy.CanTransition(from, to) && (p.Role != model.RoleFarmer || to == model.StatusCancelled)
					got, err := f.svc.UpdateStatus(context.Background(), p, before.ID, to, "changed plans")

					if allowed {
						require.NoError(t, err)
						assert.Equal(t, to, got.Status)
						require.Len(t, got.Timeline, len(before.Timeline)+1)
						last := got.Timeline[len(got.Timeline)-1]
						assert.Equal(t, to, last.Status)
						assert.Equal(t, p.ID, last.Actor)
						if to == model.StatusCancelled {
							require.NotNil(t, got.Cancellation)
							assert.Equal(t, p.ID, got.Cancellation.CancelledBy)
							assert.Equal(t, "changed plans", got.Cancellation.Reason)
						}
						return
					}

					require.Error(t, err)
					kind := apperr.KindOf(err)
					assert.Contains(t, []apperr.Kind{apperr.KindState, apperr.KindAuthorization}, kind, "error: %v", err)
					if p.Role == model.RoleFarmer && to != model.StatusCancelled {
						assert.Equal(t, apperr.KindAuthorization, kind)
					}

					after, err := f.store.GetAppointment(context.Background(), before.ID)
					require.NoError(t, err)
					assert.Equal(t, before.Status, after.Status)
					assert.Equal(t, before.Timeline, after.Timeline)
					assert.Nil(t, after.Cancellation)
					assert.Empty(t, f.bus.Events())
				})
			}
		}
	}
}

func TestUpdateStatusOwnership(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	appt := f.seed(t, "appt", model.StatusConfirmed)

	_, err := f.svc.UpdateStatus(ctx, model.Principal{ID: "farmer-9", Role: model.RoleFarmer}, appt.ID, model.StatusCancelled, "")
	requireKind(t, err, apperr.KindAuthorization)

	_, err = f.svc.UpdateStatus(ctx, model.Principal{ID: "vet-2", Role: model.RoleProvider}, appt.ID, model.StatusCompleted, "")
	requireKind(t, err, apperr.KindAuthorization)

	_, err = f.svc.UpdateStatus(ctx, model.Principal{}, appt.ID, model.StatusCancelled, "")
	requireKind(t, err, apperr.KindUnauthenticated)

	_, err = f.svc.UpdateStatus(ctx, vet, "missing", model.StatusCancelled, "")
	requireKind(t, err, apperr.KindNotFound)

	_, err = f.svc.UpdateStatus(ctx, vet, appt.ID, "archived", "")
	requireKind(t, err, apperr.KindValidation)
}

func TestUpdateStatusEvents(t *testing.T) {
	f := newFixture(t, false)
	appt := f.seed(t, "appt", model.StatusConfirmed)

	_, err := f.svc.UpdateStatus(context.Background(), vet, appt.ID, model.StatusCompleted, "")
	require.NoError(t, err)

	published := f.bus.Events()
	require.Len(t, published, 2)
	for _, e := range published {
		assert.Equal(t, events.AppointmentCompleted, e.EventType)
		assert.Equal(t, 2, e.Payload.Sequence)
	}
}

func TestAddProviderNotesCompletesOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	appt := f.seed(t, "appt", model.StatusConfirmed)

	first, err := f.svc.AddProviderNotes(ctx, vet, appt.ID, NotesInput{Assessment: "mild fever", Treatment: "antipyretics"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, first.Status)

	second, err := f.svc.AddProviderNotes(ctx, vet, appt.ID, NotesInput{Assessment: "recovered", FollowUp: "none"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, second.Status)
	assert.Equal(t, "recovered", second.ProviderNotes.Assessment)

	completions := 0
	for _, e := range second.Timeline {
		if e.Status == model.StatusCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	published := f.bus.Events()
	require.Len(t, published, 4)
	assert.Equal(t, events.AppointmentCompleted, published[0].EventType)
	assert.Equal(t, events.AppointmentUpdate, published[2].EventType)
}

func TestAddProviderNotesPermissions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	appt := f.seed(t, "appt", model.StatusPending)

	_, err := f.svc.AddProviderNotes(ctx, farmer, appt.ID, NotesInput{Assessment: "x"})
	requireKind(t, err, apperr.KindAuthorization)

	_, err = f.svc.AddProviderNotes(ctx, model.Principal{ID: "vet-2", Role: model.RoleProvider}, appt.ID, NotesInput{})
	requireKind(t, err, apperr.KindAuthorization)

	_, err = f.svc.AddProviderNotes(ctx, vet, appt.ID, NotesInput{Attachments: []model.Attachment{{Label: "x-ray"}}})
	requireKind(t, err, apperr.KindValidation)

	got, err := f.svc.AddProviderNotes(ctx, admin, appt.ID, NotesInput{Assessment: "awaiting payment"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status, "notes alone do not complete an unconfirmed appointment")
	assert.Len(t, got.Timeline, 1)
}

func TestGetAndListAppointmentsAreScoped(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	other := model.Principal{ID: "farmer-2", Role: model.RoleFarmer}

	mine, err := f.book(farmer, "consult", at(monday, 9, 0), 60)
	require.NoError(t, err)
	theirs, err := f.book(other, "consult", at(monday, 8, 0), 60)
	require.NoError(t, err)

	_, err = f.svc.GetAppointment(ctx, other, mine.ID)
	requireKind(t, err, apperr.KindAuthorization)
	got, err := f.svc.GetAppointment(ctx, vet, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	list, err := f.svc.ListAppointments(ctx, farmer, AppointmentQuery{FarmerID: "farmer-2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = f.svc.ListAppointments(ctx, vet, AppointmentQuery{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, theirs.ID, list[0].ID, "sorted by scheduledFor")

	list, err = f.svc.ListAppointments(ctx, model.Principal{ID: "vet-2", Role: model.RoleProvider}, AppointmentQuery{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.svc.ListAppointments(ctx, admin, AppointmentQuery{Status: "cancelled"})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.ListAppointments(ctx, admin, AppointmentQuery{Status: "lost"})
	requireKind(t, err, apperr.KindValidation)
}

func TestBookingPermissions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	req := AppointmentRequest{ProviderID: vetID, ServiceID: "consult", ScheduledFor: at(monday, 9, 0), Mode: model.ModeField}

	_, err := f.svc.CreateAppointment(ctx, vet, req, "")
	requireKind(t, err, apperr.KindAuthorization)

	_, err = f.svc.CreateAppointment(ctx, admin, req, "")
	requireKind(t, err, apperr.KindValidation)

	req.FarmerID = farmerID
	appt, err := f.svc.CreateAppointment(ctx, admin, req, "")
	require.NoError(t, err)
	assert.Equal(t, farmerID, appt.FarmerID)

	req.FarmerID = "someone-else"
	req.ScheduledFor = at(monday, 11, 0)
	own, err := f.svc.CreateAppointment(ctx, farmer, req, "")
	require.NoError(t, err)
	assert.Equal(t, farmerID, own.FarmerID, "farmers always book for themselves")
}

func TestAvailabilityRuleLifecycle(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.CreateAvailabilityRule(ctx, vet, vetID, RuleInput{Kind: model.RuleRecurring, StartTime: "08:00", EndTime: "12:00"})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.CreateAvailabilityRule(ctx, vet, vetID, RuleInput{Kind: model.RuleOneTime, StartTime: "08:00", EndTime: "12:00"})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.CreateAvailabilityRule(ctx, vet, vetID, RuleInput{Kind: model.RuleRecurring, DayOfWeek: "monday", StartTime: "12:00", EndTime: "08:00"})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.CreateAvailabilityRule(ctx, vet, vetID, RuleInput{Kind: model.RuleRecurring, DayOfWeek: "monday", EndTime: "12:00", SlotDurationMinutes: 60})
	requireKind(t, err, apperr.KindValidation)
	assert.Contains(t, apperr.Message(err), "startTime")

	_, err = f.svc.CreateAvailabilityRule(ctx, vet, vetID, RuleInput{Kind: model.RuleOneTime, Date: "2026-04-10", StartTime: "14:00", EndTime: "  "})
	requireKind(t, err, apperr.KindValidation)
	assert.Contains(t, apperr.Message(err), "endTime")

	slots, err := f.svc.OpenSlots(ctx, vetID, monday.String())
	require.NoError(t, err)
	assert.Empty(t, slots, "rejected rules must not open slots")

	_, err = f.svc.CreateAvailabilityRule(ctx, vet, "vet-2", RuleInput{Kind: model.RuleRecurring, DayOfWeek: "monday", StartTime: "08:00", EndTime: "12:00"})
	requireKind(t, err, apperr.KindAuthorization)

	_, err = f.svc.CreateAvailabilityRule(ctx, farmer, vetID, RuleInput{Kind: model.RuleRecurring, DayOfWeek: "monday", StartTime: "08:00", EndTime: "12:00"})
	requireKind(t, err, apperr.KindAuthorization)

	rule, err := f.svc.CreateAvailabilityRule(ctx, vet, "", RuleInput{Kind: model.RuleRecurring, DayOfWeek: "Monday", StartTime: "08:00", EndTime: "12:00"})
	require.NoError(t, err)
	assert.Equal(t, vetID, rule.ProviderID)
	assert.Equal(t, model.DefaultSlotMinutes, rule.SlotDurationMinutes)
	assert.Equal(t, "monday", rule.DayOfWeek)

	dated, err := f.svc.CreateAvailabilityRule(ctx, admin, vetID, RuleInput{Kind: model.RuleOneTime, Date: "2026-04-10", StartTime: "14:00", EndTime: "16:00", SlotDurationMinutes: 30})
	require.NoError(t, err)

	list, err := f.svc.ListAvailabilityRules(ctx, RuleQuery{ProviderID: vetID, From: "2026-03-01", To: "2026-03-31"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rule.ID, list[0].ID)

	_, err = f.svc.ListAvailabilityRules(ctx, RuleQuery{From: "2026-04-01", To: "2026-03-01"})
	requireKind(t, err, apperr.KindValidation)

	off := false
	updated, err := f.svc.UpdateAvailabilityRule(ctx, vet, dated.ID, RulePatch{Active: &off})
	require.NoError(t, err)
	assert.False(t, updated.Active)

	bad := "25:00"
	_, err = f.svc.UpdateAvailabilityRule(ctx, vet, dated.ID, RulePatch{EndTime: &bad})
	requireKind(t, err, apperr.KindValidation)

	err = f.svc.DeleteAvailabilityRule(ctx, model.Principal{ID: "vet-2", Role: model.RoleProvider}, rule.ID)
	requireKind(t, err, apperr.KindAuthorization)
	require.NoError(t, f.svc.DeleteAvailabilityRule(ctx, vet, rule.ID))
	err = f.svc.DeleteAvailabilityRule(ctx, vet, rule.ID)
	requireKind(t, err, apperr.KindNotFound)
}
