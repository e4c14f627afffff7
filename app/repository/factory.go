package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetDealRepository returns the deal repository instance
func (f *Factory) GetDealRepository() DealRepository {
	return f.GetRepositories().Deal
}

// GetSubscriberRepository returns the subscriber repository instance
func (f *Factory) GetSubscriberRepository() SubscriberRepository {
	return f.GetRepositories().Subscriber
}

// GetPriceSampleRepository returns the price sample repository instance
func (f *Factory) GetPriceSampleRepository() PriceSampleRepository {
	return f.GetRepositories().PriceSample
}

// GetUnlockRepository returns the unlock repository instance
func (f *Factory) GetUnlockRepository() UnlockRepository {
	return f.GetRepositories().Unlock
}

// GetWebhookEventRepository returns the webhook event repository instance
func (f *Factory) GetWebhookEventRepository() WebhookEventRepository {
	return f.GetRepositories().WebhookEvent
}

// GetScanLogRepository returns the scan log repository instance
func (f *Factory) GetScanLogRepository() ScanLogRepository {
	return f.GetRepositories().ScanLog
}

var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("repository factory not initialized - call InitializeFactory first")
	}
	return globalFactory
}

// GetGlobalRepositories returns all repositories from the global factory
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
