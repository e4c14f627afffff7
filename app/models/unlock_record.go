package models

import "time"

// Refund states for an unlock. At most one REFUNDED transition per record.
const (
	RefundStateNone      = "none"
	RefundStateRequested = "requested"
	RefundStateRefunded  = "refunded"
)

// UnlockRecord is created once per successful unlock payment and mutated only
// by the refund workflow.
type UnlockRecord struct {
	ID           uint `gorm:"primaryKey" json:"id"`
	SubscriberID uint `gorm:"not null;index:idx_unlocks_subscriber_deal,priority:1" json:"subscriber_id"`
	DealID       uint `gorm:"not null;index:idx_unlocks_subscriber_deal,priority:2;index" json:"deal_id"`

	UnlockedAt time.Time `gorm:"not null" json:"unlocked_at"`
	AmountPaid float64   `gorm:"not null" json:"amount_paid"`
	Currency   string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`

	// ProviderPaymentRef is the payment intent/charge the refund is issued against.
	ProviderPaymentRef string `gorm:"type:varchar(191)" json:"provider_payment_ref"`

	RefundState       string     `gorm:"type:varchar(16);not null;default:'none';index" json:"refund_state"`
	RefundReason      string     `gorm:"type:text" json:"refund_reason,omitempty"`
	RefundedAt        *time.Time `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
	ProviderRefundRef string     `gorm:"type:varchar(191)" json:"provider_refund_ref,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RefundEligible reports whether the record is still inside the refund window.
// The boundary instant itself is eligible.
func (u *UnlockRecord) RefundEligible(now time.Time, window time.Duration) bool {
	return now.Sub(u.UnlockedAt) <= window
}
