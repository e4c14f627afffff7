package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifyWebhookSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1","type":"invoice_paid"}`)
	secret := "whsec_test"

	header := SignWebhookPayload(payload, secret, now)
	assert.True(t, VerifyWebhookSignature(payload, header, secret, now, DefaultSignatureTolerance))
}

func TestVerifyWebhookSignatureRejectsTamperedPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	secret := "whsec_test"

	header := SignWebhookPayload([]byte(`{"amount":5}`), secret, now)
	assert.False(t, VerifyWebhookSignature([]byte(`{"amount":500}`), header, secret, now, DefaultSignatureTolerance))
}

func TestVerifyWebhookSignatureRejectsWrongSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)

	header := SignWebhookPayload(payload, "whsec_other", now)
	assert.False(t, VerifyWebhookSignature(payload, header, "whsec_test", now, DefaultSignatureTolerance))
}

func TestVerifyWebhookSignatureRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	stale := SignWebhookPayload(payload, secret, now.Add(-DefaultSignatureTolerance-time.Second))
	assert.False(t, VerifyWebhookSignature(payload, stale, secret, now, DefaultSignatureTolerance))

	// Just inside the tolerance is accepted.
	fresh := SignWebhookPayload(payload, secret, now.Add(-DefaultSignatureTolerance))
	assert.True(t, VerifyWebhookSignature(payload, fresh, secret, now, DefaultSignatureTolerance))
}

func TestVerifyWebhookSignatureRejectsGarbage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{}`)

	assert.False(t, VerifyWebhookSignature(payload, "", "whsec_test", now, DefaultSignatureTolerance))
	assert.False(t, VerifyWebhookSignature(payload, "not-a-signature", "whsec_test", now, DefaultSignatureTolerance))
	assert.False(t, VerifyWebhookSignature(payload, "t=abc,v1=zz", "whsec_test", now, DefaultSignatureTolerance))
	assert.False(t, VerifyWebhookSignature(payload, SignWebhookPayload(payload, "whsec_test", now), "", now, DefaultSignatureTolerance))
}
