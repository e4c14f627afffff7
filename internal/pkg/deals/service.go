package deals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
)

// DefaultDealTTL is how long a published deal stays live before expiring.
const DefaultDealTTL = 48 * time.Hour

var (
	// ErrDealNotFound maps to the user-facing "deal not found".
	ErrDealNotFound = errors.New("deal not found")
	// ErrDealUnavailable covers expired and canceled deals on write paths.
	ErrDealUnavailable = errors.New("deal no longer available")
)

// Publisher is notified after a successful PUBLISHED transition.
// Implementations must be fire-and-forget.
type Publisher interface {
	DealPublished(ctx context.Context, deal *models.Deal)
}

// Canceler is invoked after a CANCELED transition so paid unlocks are never
// silently stranded.
type Canceler interface {
	DealCanceled(ctx context.Context, deal *models.Deal)
}

// Config carries deal lifecycle tunables.
type Config struct {
	DealTTL     time.Duration
	AutoPublish bool
}

// Service owns the deal state machine. All transitions funnel through here;
// the repository enforces them with guarded writes so replays are no-ops.
type Service struct {
	deals       repository.DealRepository
	subscribers repository.SubscriberRepository
	unlocks     repository.UnlockRepository

	onPublish Publisher
	onCancel  Canceler

	cfg Config
	now func() time.Time
}

// NewService creates the deal service.
func NewService(repos *repository.Repositories, cfg Config) *Service {
	if cfg.DealTTL <= 0 {
		cfg.DealTTL = DefaultDealTTL
	}
	return &Service{
		deals:       repos.Deal,
		subscribers: repos.Subscriber,
		unlocks:     repos.Unlock,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// OnPublish registers the publish hook (SMS fan-out).
func (s *Service) OnPublish(p Publisher) {
	s.onPublish = p
}

// OnCancel registers the cancel hook (refund trigger).
func (s *Service) OnCancel(c Canceler) {
	s.onCancel = c
}

// AutoPublish reports whether validated deals go live without an operator.
func (s *Service) AutoPublish() bool {
	return s.cfg.AutoPublish
}

// CreateValidated persists a confirmed candidate as a VALIDATED deal with a
// freshly assigned deal number and teaser content.
func (s *Service) CreateValidated(ctx context.Context, c Candidate, bookingLink string, unlockFee float64) (*models.Deal, error) {
	_ = ctx
	seq, err := s.deals.NextDealSequence()
	if err != nil {
		return nil, err
	}

	now := s.now()
	savingsPct := int(math.Round(c.SavingsPercentage * 100))
	deal := &models.Deal{
		DealNumber:        models.FormatDealNumber(seq),
		Origin:            c.Origin,
		Destination:       c.Destination,
		NormalPrice:       c.Baseline,
		OfferPrice:        c.OfferPrice,
		SavingsAmount:     c.SavingsAmount,
		SavingsPercentage: c.SavingsPercentage,
		Currency:          c.Currency,
		Status:            models.DealStatusValidated,
		DetectedAt:        c.DetectedAt,
		ValidatedAt:       &now,
		BookingLink:       bookingLink,
		DepartureDate:     c.DepartureDate,
		TeaserHeadline:    fmt.Sprintf("Mistake Fare: %s to %s (%d%% Off)", c.Origin, c.Destination, savingsPct),
		TeaserDescription: fmt.Sprintf("Normally %s%d, now %s%d", currencySign(c.Currency), int(c.Baseline), currencySign(c.Currency), int(c.OfferPrice)),
		UnlockFee:         unlockFee,
	}
	if err := s.deals.Create(deal); err != nil {
		return nil, err
	}
	log.Infof("[Deals] %s validated: %s (%d%% off)", deal.DealNumber, deal.RouteDescription(), savingsPct)
	return deal, nil
}

// Publish performs VALIDATED -> PUBLISHED. published_at is written exactly
// once; a replayed publish finds zero VALIDATED rows and simply returns the
// stored deal, so recovery after a crash resumes the original timestamp.
func (s *Service) Publish(ctx context.Context, id uint) (*models.Deal, error) {
	now := s.now()
	transitioned, err := s.deals.MarkPublished(id, now, now.Add(s.cfg.DealTTL))
	if err != nil {
		return nil, err
	}

	deal, err := s.deals.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}

	if !transitioned {
		if deal.Status == models.DealStatusPublished {
			return deal, nil
		}
		return nil, ErrDealUnavailable
	}

	log.Infof("[Deals] %s published, expires %s", deal.DealNumber, deal.ExpiresAt.Format(time.RFC3339))
	if s.onPublish != nil {
		go s.onPublish.DealPublished(context.WithoutCancel(ctx), deal)
	}
	return deal, nil
}

// Cancel performs PUBLISHED -> CANCELED (retracted fare or operator action)
// and hands the deal to the cancel hook so eligible unlocks get refunded.
func (s *Service) Cancel(ctx context.Context, id uint) (*models.Deal, error) {
	transitioned, err := s.deals.MarkCanceled(id, s.now())
	if err != nil {
		return nil, err
	}

	deal, err := s.deals.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}

	if !transitioned {
		if deal.Status == models.DealStatusCanceled {
			return deal, nil
		}
		return nil, ErrDealUnavailable
	}

	log.Warnf("[Deals] %s canceled", deal.DealNumber)
	if s.onCancel != nil {
		go s.onCancel.DealCanceled(context.WithoutCancel(ctx), deal)
	}
	return deal, nil
}

// Resolve loads a deal by number and applies the lazy expiry check. The read
// path is authoritative; the sweep only keeps the table tidy between reads.
func (s *Service) Resolve(ctx context.Context, dealNumber string) (*models.Deal, error) {
	_ = ctx
	deal, err := s.deals.GetByDealNumber(dealNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	return s.expireIfDue(deal)
}

// ListPublished returns published deals with lazy expiry applied.
func (s *Service) ListPublished(ctx context.Context) ([]models.Deal, error) {
	_ = ctx
	deals, err := s.deals.ListPublished()
	if err != nil {
		return nil, err
	}
	live := deals[:0]
	for i := range deals {
		resolved, err := s.expireIfDue(&deals[i])
		if err != nil {
			return nil, err
		}
		if resolved.Status == models.DealStatusPublished {
			live = append(live, *resolved)
		}
	}
	return live, nil
}

// SweepExpired flips all overdue published deals. It uses the same guarded
// write as the lazy path, so the two can never disagree.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	_ = ctx
	now := s.now()
	due, err := s.deals.ListPublishedExpiredBefore(now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range due {
		flipped, err := s.deals.MarkExpired(due[i].ID, now)
		if err != nil {
			return expired, err
		}
		if flipped {
			expired++
		}
	}
	if expired > 0 {
		log.Infof("[Deals] Sweep expired %d deals", expired)
	}
	return expired, nil
}

// Unlock records a paid unlock for a contact. Idempotent: a repeat call for
// the same subscriber+deal returns the existing record without touching the
// aggregates again.
func (s *Service) Unlock(ctx context.Context, dealNumber, contact, email, paymentRef string) (*models.Deal, *models.UnlockRecord, error) {
	deal, err := s.Resolve(ctx, dealNumber)
	if err != nil {
		return nil, nil, err
	}
	// Unlocking stays possible on CANCELED deals only through the refund
	// path; new unlock payments require a live deal.
	if deal.Status != models.DealStatusPublished {
		return nil, nil, ErrDealUnavailable
	}

	sub, err := s.subscribers.GetByContactIdentifier(contact)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
		// One-off buyers get a contact row without any subscription state.
		sub = &models.Subscriber{
			ContactIdentifier: contact,
			Email:             email,
			SubscriptionState: models.SubscriptionNone,
		}
		if err := s.subscribers.Upsert(sub); err != nil {
			return nil, nil, err
		}
	}

	if existing, err := s.unlocks.GetBySubscriberAndDeal(sub.ID, deal.ID); err == nil {
		return deal, existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	unlock := &models.UnlockRecord{
		SubscriberID:       sub.ID,
		DealID:             deal.ID,
		UnlockedAt:         s.now(),
		AmountPaid:         deal.UnlockFee,
		Currency:           deal.Currency,
		ProviderPaymentRef: paymentRef,
		RefundState:        models.RefundStateNone,
	}
	if err := s.unlocks.Create(unlock); err != nil {
		return nil, nil, err
	}
	if err := s.deals.AddUnlockStats(deal.ID, 1, unlock.AmountPaid); err != nil {
		return nil, nil, err
	}

	log.Infof("[Deals] %s unlocked by subscriber %d", deal.DealNumber, sub.ID)
	return deal, unlock, nil
}

// HasUnlock reports whether the contact already paid for the deal. Canceled
// deals stay visible to these users, tagged with their terminal status.
func (s *Service) HasUnlock(ctx context.Context, deal *models.Deal, contact string) bool {
	_ = ctx
	sub, err := s.subscribers.GetByContactIdentifier(contact)
	if err != nil {
		return false
	}
	_, err = s.unlocks.GetBySubscriberAndDeal(sub.ID, deal.ID)
	return err == nil
}

func (s *Service) expireIfDue(deal *models.Deal) (*models.Deal, error) {
	if !deal.ShouldExpire(s.now()) {
		return deal, nil
	}
	if _, err := s.deals.MarkExpired(deal.ID, s.now()); err != nil {
		return nil, err
	}
	deal.Status = models.DealStatusExpired
	return deal, nil
}

func currencySign(currency string) string {
	switch currency {
	case "USD", "AUD", "CAD", "NZD", "SGD":
		return "$"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	default:
		return currency + " "
	}
}
