package models

import "time"

// PriceSample is one observed (origin, destination, price) point from a price
// source. Append-only; only ever aggregated into rolling baselines.
type PriceSample struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Origin      string    `gorm:"type:varchar(8);not null;index:idx_price_samples_route,priority:1" json:"origin"`
	Destination string    `gorm:"type:varchar(8);not null;index:idx_price_samples_route,priority:2" json:"destination"`
	Price       float64   `gorm:"not null" json:"price"`
	Currency    string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Source      string    `gorm:"type:varchar(32);not null" json:"source"`
	ObservedAt  time.Time `gorm:"not null;index:idx_price_samples_route,priority:3" json:"observed_at"`
}
