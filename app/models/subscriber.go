package models

import "time"

// Subscription states. CANCELED means "do not renew", not "revoke now":
// access stays until ExpiresAt naturally elapses.
const (
	SubscriptionNone     = "none"
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionExpired  = "expired"
)

// Subscriber is an SMS alert subscriber. Mutated only by the billing
// reconciler; ExpiresAt is advanced only by confirmed payment events.
type Subscriber struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// ContactIdentifier is the phone number (or email) the subscriber signed
	// up with; it is the identity webhook events are matched against.
	ContactIdentifier string `gorm:"type:varchar(191);not null;uniqueIndex" json:"contact_identifier"`
	Email             string `gorm:"type:varchar(191);index" json:"email"`

	SubscriptionState string     `gorm:"type:varchar(16);not null;default:'none';index" json:"subscription_state"`
	ExpiresAt         *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`

	ProviderCustomerRef     string `gorm:"type:varchar(191);index" json:"provider_customer_ref"`
	ProviderSubscriptionRef string `gorm:"type:varchar(191);index" json:"provider_subscription_ref"`

	SubscribedAt     *time.Time `gorm:"type:timestamp;default:null" json:"subscribed_at,omitempty"`
	LastPaymentAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_at,omitempty"`
	TotalAlertsSent  int        `gorm:"not null;default:0" json:"total_alerts_sent"`
	LastAlertSentAt  *time.Time `gorm:"type:timestamp;default:null" json:"last_alert_sent_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasActiveAccess reports whether the subscriber currently gets the paid tier.
// A canceled subscription keeps access until its paid period runs out.
func (s *Subscriber) HasActiveAccess(now time.Time) bool {
	switch s.SubscriptionState {
	case SubscriptionActive, SubscriptionCanceled:
		return s.ExpiresAt != nil && now.Before(*s.ExpiresAt)
	default:
		return false
	}
}
