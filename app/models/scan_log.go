package models

import "time"

// Scan cycle outcomes.
const (
	ScanStatusSuccess = "success"
	ScanStatusPartial = "partial"
	ScanStatusFailed  = "failed"
)

// ScanLog records one scanner cycle for monitoring.
type ScanLog struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	ScanID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"scan_id"`

	StartedAt   time.Time  `gorm:"not null;index" json:"started_at"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`

	OriginsChecked int `gorm:"not null;default:0" json:"origins_checked"`
	OriginsSkipped int `gorm:"not null;default:0" json:"origins_skipped"`
	AnomaliesFound int `gorm:"not null;default:0" json:"anomalies_found"`
	DealsValidated int `gorm:"not null;default:0" json:"deals_validated"`
	DealsPublished int `gorm:"not null;default:0" json:"deals_published"`

	Status string `gorm:"type:varchar(16);not null" json:"status"`
	Errors string `gorm:"type:text" json:"errors"`
}
