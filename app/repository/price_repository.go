package repository

import (
	"time"

	"github.com/fareglitch/FareGlitch/app/models"
	"gorm.io/gorm"
)

// priceSampleRepository implements the PriceSampleRepository interface
type priceSampleRepository struct {
	db *gorm.DB
}

// NewPriceSampleRepository creates a new price sample repository instance
func NewPriceSampleRepository(db *gorm.DB) PriceSampleRepository {
	return &priceSampleRepository{db: db}
}

// Append stores one observed price sample. Samples are never updated.
func (r *priceSampleRepository) Append(sample *models.PriceSample) error {
	return r.db.Create(sample).Error
}

// BaselineStats returns trailing average price and sample count for a route.
func (r *priceSampleRepository) BaselineStats(origin, destination string, since time.Time) (float64, int64, error) {
	type row struct {
		Avg   float64
		Count int64
	}
	var res row
	err := r.db.Model(&models.PriceSample{}).
		Select("COALESCE(AVG(price), 0) AS avg, COUNT(*) AS count").
		Where("origin = ? AND destination = ? AND observed_at >= ?", origin, destination, since).
		Scan(&res).Error
	if err != nil {
		return 0, 0, err
	}
	return res.Avg, res.Count, nil
}
