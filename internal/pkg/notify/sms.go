package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/env"
)

const defaultSMSBaseURL = "https://sms.api.sinch.com/xms/v1"

// Gateway sends one SMS. Implementations must be safe for concurrent use.
type Gateway interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// SinchGateway implements Gateway against the Sinch batch SMS API.
type SinchGateway struct {
	BaseURL       string
	ServicePlanID string
	APIToken      string
	FromNumber    string

	HTTPClient *http.Client
}

// NewSinchGatewayFromEnv builds the SMS gateway from environment config.
func NewSinchGatewayFromEnv() *SinchGateway {
	return &SinchGateway{
		BaseURL:       strings.TrimRight(env.GetEnv("SMS_API_BASE_URL", defaultSMSBaseURL), "/"),
		ServicePlanID: strings.TrimSpace(env.GetEnv("SMS_SERVICE_PLAN_ID", "")),
		APIToken:      strings.TrimSpace(env.GetEnv("SMS_API_TOKEN", "")),
		FromNumber:    strings.TrimSpace(env.GetEnv("SMS_FROM_NUMBER", "")),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send delivers one SMS through the gateway.
func (g *SinchGateway) Send(ctx context.Context, phoneNumber, message string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"from": g.FromNumber,
		"to":   []string{phoneNumber},
		"body": message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/batches", g.BaseURL, g.ServicePlanID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Notifier fans a published deal's teaser out to active subscribers. Alerts
// are fire-and-forget: failures are logged, never retried, and never block
// the publish transition.
type Notifier struct {
	gateway     Gateway
	subscribers repository.SubscriberRepository
}

// NewNotifier creates an alert notifier.
func NewNotifier(gateway Gateway, subscribers repository.SubscriberRepository) *Notifier {
	return &Notifier{gateway: gateway, subscribers: subscribers}
}

// DealPublished alerts every subscriber with active access. Only the teaser
// goes over SMS - the booking link stays behind the unlock.
func (n *Notifier) DealPublished(ctx context.Context, deal *models.Deal) {
	now := time.Now()
	subs, err := n.subscribers.ListWithActiveAccess(now)
	if err != nil {
		log.Errorf("[Notify] Could not load subscribers for %s: %v", deal.DealNumber, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	message := fmt.Sprintf("%s - %s. Unlock: %s", deal.TeaserHeadline, deal.TeaserDescription, deal.DealNumber)
	sent := 0
	for _, sub := range subs {
		if err := n.gateway.Send(ctx, sub.ContactIdentifier, message); err != nil {
			log.Warnf("[Notify] SMS to subscriber %d failed: %v", sub.ID, err)
			continue
		}
		if err := n.subscribers.RecordAlertSent(sub.ID, now); err != nil {
			log.Warnf("[Notify] Could not record alert for subscriber %d: %v", sub.ID, err)
		}
		sent++
	}
	log.Infof("[Notify] %s: %d/%d subscribers alerted", deal.DealNumber, sent, len(subs))
}
