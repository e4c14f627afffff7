package billing

import (
	"encoding/json"
	"strings"
	"time"
)

// Payment provider identifier recorded on every ledger row.
const ProviderPayment = "payment"

// Event types the reconciler understands. Anything else is recorded in the
// dedupe ledger and ignored.
const (
	EventCheckoutCompleted    = "checkout_completed"
	EventInvoicePaid          = "invoice_paid"
	EventSubscriptionCanceled = "subscription_canceled"
	EventRefundIssued         = "refund_issued"
)

// Event is the provider-agnostic shape of a payment webhook event after
// parsing. Transitions are a pure function of (stored state, Event): nothing
// here encodes an assumption about which event arrived first.
type Event struct {
	ProviderEventID string
	Type            string

	Contact         string
	Email           string
	CustomerRef     string
	SubscriptionRef string
	PaymentRef      string

	Amount   float64
	Currency string

	ReceivedAt time.Time
}

// EventInput is the normalized input for webhook event persistence.
type EventInput struct {
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Contact         string  `json:"contact"`
		Email           string  `json:"email"`
		CustomerRef     string  `json:"customer_ref"`
		SubscriptionRef string  `json:"subscription_ref"`
		PaymentRef      string  `json:"payment_ref"`
		Amount          float64 `json:"amount"`
		Currency        string  `json:"currency"`
	} `json:"data"`
}

// ParseEvent decodes a provider webhook payload into the normalized Event.
func ParseEvent(payload []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &Event{
		ProviderEventID: strings.TrimSpace(env.ID),
		Type:            strings.ToLower(strings.TrimSpace(env.Type)),
		Contact:         strings.TrimSpace(env.Data.Contact),
		Email:           strings.TrimSpace(env.Data.Email),
		CustomerRef:     strings.TrimSpace(env.Data.CustomerRef),
		SubscriptionRef: strings.TrimSpace(env.Data.SubscriptionRef),
		PaymentRef:      strings.TrimSpace(env.Data.PaymentRef),
		Amount:          env.Data.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(env.Data.Currency)),
	}, nil
}

// IsReconcilableEvent reports whether the event type mutates ledger state.
func IsReconcilableEvent(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventInvoicePaid, EventSubscriptionCanceled, EventRefundIssued:
		return true
	default:
		return false
	}
}
