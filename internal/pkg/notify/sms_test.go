package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/internal/pkg/testutil"
)

type fakeGateway struct {
	sent    []string
	failFor map[string]bool
}

func (g *fakeGateway) Send(ctx context.Context, phoneNumber, message string) error {
	if g.failFor[phoneNumber] {
		return errors.New("delivery failed")
	}
	g.sent = append(g.sent, message)
	return nil
}

func TestDealPublishedAlertsActiveSubscribersOnly(t *testing.T) {
	now := time.Now()
	subs := testutil.NewSubscriberRepository()

	active := now.Add(10 * 24 * time.Hour)
	require.NoError(t, subs.Upsert(&models.Subscriber{
		ContactIdentifier: "+15550001111", SubscriptionState: models.SubscriptionActive, ExpiresAt: &active,
	}))
	require.NoError(t, subs.Upsert(&models.Subscriber{
		ContactIdentifier: "+15550002222", SubscriptionState: models.SubscriptionNone,
	}))
	lapsed := now.Add(-time.Hour)
	require.NoError(t, subs.Upsert(&models.Subscriber{
		ContactIdentifier: "+15550003333", SubscriptionState: models.SubscriptionActive, ExpiresAt: &lapsed,
	}))

	gateway := &fakeGateway{}
	n := NewNotifier(gateway, subs)
	n.DealPublished(context.Background(), &models.Deal{
		DealNumber:        "DEAL#001",
		TeaserHeadline:    "Mistake Fare: JFK to NRT (72% Off)",
		TeaserDescription: "Normally $1000, now $280",
		BookingLink:       "https://book.example/offer/abc",
	})

	require.Len(t, gateway.sent, 1)
	// Teaser only; the booking link never goes out over SMS.
	assert.NotContains(t, gateway.sent[0], "book.example")
	assert.Contains(t, gateway.sent[0], "DEAL#001")

	sub, err := subs.GetByContactIdentifier("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, 1, sub.TotalAlertsSent)
}

func TestDealPublishedSurvivesPartialFailure(t *testing.T) {
	now := time.Now()
	subs := testutil.NewSubscriberRepository()
	active := now.Add(10 * 24 * time.Hour)
	require.NoError(t, subs.Upsert(&models.Subscriber{
		ContactIdentifier: "+15550001111", SubscriptionState: models.SubscriptionActive, ExpiresAt: &active,
	}))
	require.NoError(t, subs.Upsert(&models.Subscriber{
		ContactIdentifier: "+15550002222", SubscriptionState: models.SubscriptionActive, ExpiresAt: &active,
	}))

	gateway := &fakeGateway{failFor: map[string]bool{"+15550001111": true}}
	n := NewNotifier(gateway, subs)
	n.DealPublished(context.Background(), &models.Deal{DealNumber: "DEAL#002"})

	// The failed number is skipped, the rest still get the alert.
	assert.Len(t, gateway.sent, 1)
	second, err := subs.GetByContactIdentifier("+15550002222")
	require.NoError(t, err)
	assert.Equal(t, 1, second.TotalAlertsSent)
}
