package scanner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/budget"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/feeds"
)

const (
	// DefaultInterval is the cadence of the scan loop.
	DefaultInterval = time.Hour
	// DefaultDeadline bounds one cycle; a stuck source must never let a cycle
	// bleed into the next tick.
	DefaultDeadline = 45 * time.Minute
	// DefaultConcurrency bounds in-flight discovery calls.
	DefaultConcurrency = 4
	// DefaultMaxFarePrice caps the discovery query; anything above it cannot
	// clear the savings floor anyway.
	DefaultMaxFarePrice = 2000.0
)

// Config carries scan loop tunables.
type Config struct {
	Interval     time.Duration
	Deadline     time.Duration
	Concurrency  int
	MaxFarePrice float64
}

// Scanner runs the periodic discovery cycle: pick the next origin slice,
// charge the budget per origin, pull cached fares, flag anomalies, and push
// candidates through the validation gate.
type Scanner struct {
	source    feeds.DiscoverySource
	budget    *budget.Tracker
	detector  *Detector
	validator *deals.Validator
	dealSvc   *deals.Service
	rotation  *Rotation
	scanLogs  repository.ScanLogRepository

	cfg Config
	now func() time.Time

	mu      sync.Mutex
	running bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scanner.
func New(source feeds.DiscoverySource, tracker *budget.Tracker, detector *Detector,
	validator *deals.Validator, dealSvc *deals.Service, rotation *Rotation,
	scanLogs repository.ScanLogRepository, cfg Config) *Scanner {

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxFarePrice <= 0 {
		cfg.MaxFarePrice = DefaultMaxFarePrice
	}
	return &Scanner{
		source:    source,
		budget:    tracker,
		detector:  detector,
		validator: validator,
		dealSvc:   dealSvc,
		rotation:  rotation,
		scanLogs:  scanLogs,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the scan loop in the background.
func (s *Scanner) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		log.Infof("[Scanner] Loop started, interval %s, slice %d of %d origins",
			s.cfg.Interval, s.rotation.slice, s.rotation.PoolSize())
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
					log.Errorf("[Scanner] Cycle failed: %v", err)
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts the loop down and waits for an in-flight cycle to finish.
func (s *Scanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// ErrCycleInProgress is returned when a cycle is requested while the previous
// one still runs. The request is dropped, not queued.
var ErrCycleInProgress = errors.New("scan cycle already in progress")

// RunCycle executes one scan cycle. Reentrancy is guarded: if the previous
// cycle overruns into this tick, the new one is skipped.
func (s *Scanner) RunCycle(ctx context.Context) (*models.ScanLog, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Warnf("[Scanner] Previous cycle still running, skipping tick")
		return nil, ErrCycleInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	entry := &models.ScanLog{
		ScanID:    uuid.New().String(),
		StartedAt: s.now(),
		Status:    models.ScanStatusSuccess,
	}
	if err := s.scanLogs.Create(entry); err != nil {
		return nil, err
	}

	origins := s.rotation.Next()
	candidates, errs := s.scanOrigins(ctx, origins, entry)
	s.resolveCandidates(ctx, candidates, entry, &errs)

	completed := s.now()
	entry.CompletedAt = &completed
	entry.Errors = strings.Join(errs, "; ")
	switch {
	case entry.OriginsChecked == 0 && len(origins) > 0:
		entry.Status = models.ScanStatusFailed
	case len(errs) > 0 || entry.OriginsSkipped > 0:
		entry.Status = models.ScanStatusPartial
	}
	if err := s.scanLogs.Save(entry); err != nil {
		return entry, err
	}

	log.Infof("[Scanner] Cycle %s done: %d checked, %d skipped, %d anomalies, %d validated",
		entry.ScanID, entry.OriginsChecked, entry.OriginsSkipped, entry.AnomaliesFound, entry.DealsValidated)
	return entry, nil
}

// scanOrigins fans discovery calls out over the slice with bounded
// concurrency. The budget is charged per origin BEFORE the call; a denied
// charge skips that origin for this cycle.
func (s *Scanner) scanOrigins(ctx context.Context, origins []string, entry *models.ScanLog) ([]deals.Candidate, []string) {
	var (
		mu         sync.Mutex
		candidates []deals.Candidate
		errs       []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, origin := range origins {
		origin := origin
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				entry.OriginsSkipped++
				mu.Unlock()
				return nil
			}
			if !s.budget.TryConsume(gctx, feeds.SourceDiscovery, 1) {
				mu.Lock()
				entry.OriginsSkipped++
				mu.Unlock()
				log.Warnf("[Scanner] Budget denied discovery for %s, skipping", origin)
				return nil
			}

			options, err := s.source.QueryCheapDestinations(gctx, origin, s.cfg.MaxFarePrice)
			if err != nil {
				mu.Lock()
				errs = append(errs, origin+": "+err.Error())
				mu.Unlock()
				return nil
			}

			mu.Lock()
			entry.OriginsChecked++
			mu.Unlock()

			for _, opt := range options {
				cand, err := s.detector.Observe(origin, opt)
				if err != nil {
					mu.Lock()
					errs = append(errs, origin+"-"+opt.Destination+": "+err.Error())
					mu.Unlock()
					continue
				}
				if cand == nil {
					continue
				}
				mu.Lock()
				entry.AnomaliesFound++
				candidates = append(candidates, *cand)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return candidates, errs
}

// resolveCandidates dedupes same-route candidates, keeping the lower offer,
// then runs each through the validation gate sequentially. Confirmation calls
// are the scarce resource; there is no win in parallelizing them.
func (s *Scanner) resolveCandidates(ctx context.Context, candidates []deals.Candidate, entry *models.ScanLog, errs *[]string) {
	byRoute := make(map[string]deals.Candidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := c.Origin + "-" + c.Destination
		if prev, ok := byRoute[key]; ok {
			if c.OfferPrice < prev.OfferPrice {
				byRoute[key] = c
			}
			continue
		}
		byRoute[key] = c
		order = append(order, key)
	}

	for _, key := range order {
		if ctx.Err() != nil {
			log.Warnf("[Scanner] Deadline hit, abandoning %d candidates", len(order)-entry.DealsValidated)
			return
		}
		c := byRoute[key]
		deal, err := s.validator.Validate(ctx, c)
		if err != nil {
			if errors.Is(err, deals.ErrBudgetExhausted) ||
				errors.Is(err, deals.ErrNotConfirmed) ||
				errors.Is(err, deals.ErrRouteAlreadyTracked) {
				continue
			}
			*errs = append(*errs, key+": "+err.Error())
			continue
		}
		entry.DealsValidated++

		if s.dealSvc.AutoPublish() {
			if _, err := s.dealSvc.Publish(ctx, deal.ID); err != nil {
				*errs = append(*errs, key+": publish: "+err.Error())
				continue
			}
			entry.DealsPublished++
		}
	}
}
