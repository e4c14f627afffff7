package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/fareglitch/FareGlitch/app/controllers"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/access"
	"github.com/fareglitch/FareGlitch/internal/pkg/billing"
	"github.com/fareglitch/FareGlitch/internal/pkg/budget"
	"github.com/fareglitch/FareGlitch/internal/pkg/cache"
	"github.com/fareglitch/FareGlitch/internal/pkg/database"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/env"
	"github.com/fareglitch/FareGlitch/internal/pkg/feeds"
	"github.com/fareglitch/FareGlitch/internal/pkg/notify"
	"github.com/fareglitch/FareGlitch/internal/pkg/payment"
	"github.com/fareglitch/FareGlitch/internal/pkg/refund"
	"github.com/fareglitch/FareGlitch/internal/pkg/router"
	"github.com/fareglitch/FareGlitch/internal/pkg/scanner"
	"github.com/fareglitch/FareGlitch/internal/pkg/statistics"
)

const defaultOriginPool = "JFK,LAX,ORD,SFO,MIA,SEA,BOS,ATL,DFW,DEN"

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	repos := repository.GetGlobalRepositories()

	// Outbound clients.
	provider := payment.NewClientFromEnv()
	discovery := feeds.NewDiscoveryClientFromEnv()
	confirmation := feeds.NewConfirmationClientFromEnv()

	// Budget tracker: calendar boundaries follow the sources' reset timezone.
	loc, err := time.LoadLocation(env.GetEnv("BUDGET_TIMEZONE", "UTC"))
	if err != nil {
		log.Warnf("[Main] Invalid BUDGET_TIMEZONE, using UTC: %v", err)
		loc = time.UTC
	}
	tracker := budget.NewTracker(budget.NewRedisCounterStore(cache.GetClient()), map[string]budget.Limits{
		feeds.SourceDiscovery: {
			Daily:   int64(env.GetEnvInt("BUDGET_DISCOVERY_DAILY", 400)),
			Monthly: int64(env.GetEnvInt("BUDGET_DISCOVERY_MONTHLY", 10000)),
		},
		feeds.SourceConfirmation: {
			Daily:   int64(env.GetEnvInt("BUDGET_CONFIRMATION_DAILY", 50)),
			Monthly: int64(env.GetEnvInt("BUDGET_CONFIRMATION_MONTHLY", 1000)),
		},
	}, loc)

	// Core services.
	dealSvc := deals.NewService(repos, deals.Config{
		DealTTL:     env.GetEnvDuration("DEAL_TTL", deals.DefaultDealTTL),
		AutoPublish: env.GetEnvBool("DEAL_AUTO_PUBLISH", false),
	})
	billingSvc := billing.NewService(repos)
	refundWf := refund.NewWorkflow(repos, provider)
	statsSvc := statistics.NewService(repos)
	notifier := notify.NewNotifier(notify.NewSinchGatewayFromEnv(), repos.Subscriber)

	dealSvc.OnPublish(notifier)
	dealSvc.OnCancel(refundWf)

	validator := deals.NewValidator(confirmation, tracker, dealSvc,
		env.GetEnvFloat("VALIDATION_TOLERANCE", deals.DefaultPriceTolerance),
		env.GetEnvFloat("UNLOCK_FEE", 5.0))

	detector := scanner.NewDetector(repos.PriceSample,
		env.GetEnvFloat("ANOMALY_THRESHOLD", scanner.DefaultThreshold),
		env.GetEnvFloat("ANOMALY_MIN_SAVINGS", scanner.DefaultMinSavings))
	rotation := scanner.NewRotation(
		splitOrigins(env.GetEnv("ORIGIN_POOL", defaultOriginPool)),
		env.GetEnvInt("ORIGIN_SLICE_SIZE", 3))
	scan := scanner.New(discovery, tracker, detector, validator, dealSvc, rotation, repos.ScanLog, scanner.Config{
		Interval: env.GetEnvDuration("SCAN_INTERVAL", scanner.DefaultInterval),
	})

	// HTTP surface.
	app := fiber.New(fiber.Config{
		AppName:      "FareGlitch",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	app.Use(recover.New(), logger.New())

	router.Setup(app, router.Controllers{
		Deal: controllers.NewDealController(dealSvc, repos.Subscriber, statsSvc,
			env.GetEnvDuration("EMBARGO_WINDOW", access.DefaultEmbargoWindow)),
		Checkout: controllers.NewCheckoutController(provider, dealSvc, repos.Subscriber),
		Refund:   controllers.NewRefundController(refundWf),
		Webhook:  controllers.NewWebhookController(billingSvc),
		Admin:    controllers.NewAdminController(dealSvc, scan, repos.ScanLog, repos.Unlock, statsSvc),
	})

	// Background loops.
	ctx, cancel := context.WithCancel(context.Background())
	scan.Start(ctx)
	go runSweeper(ctx, dealSvc, billingSvc)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("[Main] Shutting down")
		cancel()
		scan.Stop()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Errorf("[Main] Server stopped: %v", err)
	}
}

// runSweeper periodically expires overdue deals and prunes the webhook
// dedupe ledger. Both are cleanup passes; the read paths stay correct even
// when a tick is missed.
func runSweeper(ctx context.Context, dealSvc *deals.Service, billingSvc *billing.Service) {
	ticker := time.NewTicker(env.GetEnvDuration("SWEEP_INTERVAL", 5*time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := dealSvc.SweepExpired(ctx); err != nil {
				log.Errorf("[Sweeper] Expiry sweep failed: %v", err)
			}
			if _, err := billingSvc.PruneLedger(ctx); err != nil {
				log.Errorf("[Sweeper] Ledger prune failed: %v", err)
			}
			if _, err := billingSvc.SweepExpiredSubscriptions(ctx); err != nil {
				log.Errorf("[Sweeper] Subscription sweep failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
