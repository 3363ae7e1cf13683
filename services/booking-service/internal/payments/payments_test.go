package payments

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage/memstore"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type fakeGateway struct {
	err   error
	calls int
}

func (g *fakeGateway) Channel() string { return "fake" }

func (g *fakeGateway) Issue(_ context.Context, _ decimal.Decimal, _ string, reference string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "gw_" + reference, nil
}

var referencePattern = regexp.MustCompile(`^ANI-\d+-[0-9A-F]{6}$`)

func TestNewReferenceFormat(t *testing.T) {
	now := time.UnixMilli(1767225600123)
	ref := NewReference(now)
	assert.Regexp(t, referencePattern, ref)
	assert.Contains(t, ref, "-1767225600123-")
}

func TestIssuePersistsThenSends(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	gw := &fakeGateway{}
	issuer := NewIssuer(store, gw, zerolog.Nop())

	pi, err := issuer.Issue(ctx, "appt-1", decimal.NewFromInt(25000), "UGX")
	require.NoError(t, err)
	assert.Equal(t, model.IntentPending, pi.Status)
	assert.Equal(t, "fake", pi.Channel)
	assert.Equal(t, "gw_"+pi.Reference, pi.GatewayRef)
	assert.Regexp(t, referencePattern, pi.Reference)

	again, err := issuer.Issue(ctx, "appt-1", decimal.NewFromInt(25000), "UGX")
	require.NoError(t, err)
	assert.Equal(t, pi.Reference, again.Reference)
	assert.Equal(t, 1, gw.calls)
}

func TestIssueGatewayFailureKeepsIntent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	gw := &fakeGateway{err: errors.New("timeout")}
	issuer := NewIssuer(store, gw, zerolog.Nop())

	pi, err := issuer.Issue(ctx, "appt-1", decimal.NewFromInt(10), "USD")
	require.ErrorIs(t, err, ErrGateway)
	require.NotEmpty(t, pi.Reference)

	stored, err := store.GetIntentByAppointment(ctx, "appt-1")
	require.NoError(t, err)
	assert.Empty(t, stored.GatewayRef)

	pending, err := issuer.Unissued(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	gw.err = nil
	retried, err := issuer.Retry(ctx, pending[0])
	require.NoError(t, err)
	assert.Equal(t, "gw_"+pi.Reference, retried.GatewayRef)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(25000), MinorUnits(decimal.NewFromInt(25000), "UGX"))
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99"), "usd"))
	assert.Equal(t, int64(500), MinorUnits(decimal.NewFromInt(500), "JPY"))
}

func TestManualGatewayEchoesReference(t *testing.T) {
	ref, err := ManualGateway{}.Issue(context.Background(), decimal.NewFromInt(1), "UGX", "ANI-1-ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "ANI-1-ABCDEF", ref)
}

func signed(t *testing.T, secret, eventType, reference string) ([]byte, string) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "metadata": {"reference": %q}}}
	}`, stripe.APIVersion, eventType, reference))
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: body, Secret: secret, Timestamp: time.Now()})
	return sp.Payload, sp.Header
}

func TestStripeWebhookVerify(t *testing.T) {
	w := NewStripeWebhook("whsec_test", 0)

	body, sig := signed(t, "whsec_test", "payment_intent.succeeded", "ANI-1-ABCDEF")
	evt, err := w.Verify(body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, evt.Outcome)
	assert.Equal(t, "ANI-1-ABCDEF", evt.Reference)
	assert.Equal(t, "evt_1", evt.ID)

	body, sig = signed(t, "whsec_test", "payment_intent.payment_failed", "ANI-1-ABCDEF")
	evt, err = w.Verify(body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, evt.Outcome)

	body, sig = signed(t, "whsec_test", "charge.refunded", "")
	evt, err = w.Verify(body, sig)
	require.NoError(t, err)
	assert.Empty(t, evt.Outcome)

	_, err = w.Verify(body, "t=1,v1=deadbeef")
	assert.Error(t, err)

	_, err = NewStripeWebhook("", 0).Verify(body, sig)
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
}

type fakeLeader struct {
	lead     bool
	released atomic.Bool
}

func (l *fakeLeader) TryLead(context.Context) (bool, error) { return l.lead, nil }
func (l *fakeLeader) Release()                              { l.released.Store(true) }

type countingSweeper struct{ n atomic.Int32 }

func (s *countingSweeper) ReconcilePayments(context.Context) error {
	s.n.Add(1)
	return nil
}

func TestReconcilerRespectsLeadership(t *testing.T) {
	for _, lead := range []bool{true, false} {
		sweeper := &countingSweeper{}
		leader := &fakeLeader{lead: lead}
		r := NewReconciler(sweeper, leader, zerolog.Nop(), ReconcilerConfig{Interval: 5 * time.Millisecond})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		require.NoError(t, r.Run(ctx))
		cancel()

		assert.True(t, leader.released.Load())
		if lead {
			assert.Positive(t, sweeper.n.Load())
		} else {
			assert.Zero(t, sweeper.n.Load())
		}
	}
}
