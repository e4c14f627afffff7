package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fareglitch/FareGlitch/internal/pkg/env"
)

const defaultProviderBaseURL = "https://api.stripe.com/v1"

// ErrProviderUnavailable marks a transient provider failure (timeout, 5xx).
// Callers report it as retryable and must not record success.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// CheckoutSession is a hosted checkout the caller redirects the customer to.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}

// Refund is the provider's confirmation of an issued refund.
type Refund struct {
	RefundID string
	Status   string
	Amount   float64
}

// Provider is the outbound payment surface. Inbound state arrives through
// webhooks only; these calls never mutate local ledger state themselves.
type Provider interface {
	CreateSubscriptionCheckout(ctx context.Context, email, contact string) (*CheckoutSession, error)
	CreateUnlockCheckout(ctx context.Context, dealNumber, headline string, amount float64, email string) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	IssueRefund(ctx context.Context, paymentRef, reason string) (*Refund, error)
}

// Client implements Provider against a Stripe-compatible HTTP API.
type Client struct {
	BaseURL   string
	SecretKey string
	PriceRef  string
	Currency  string

	HTTPClient *http.Client
}

// NewClientFromEnv builds the provider client from environment config.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL:   strings.TrimRight(env.GetEnv("PAYMENT_API_BASE_URL", defaultProviderBaseURL), "/"),
		SecretKey: strings.TrimSpace(env.GetEnv("PAYMENT_SECRET_KEY", "")),
		PriceRef:  strings.TrimSpace(env.GetEnv("PAYMENT_PRICE_REF", "")),
		Currency:  strings.ToLower(env.GetEnv("PAYMENT_CURRENCY", "aud")),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type sessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSubscriptionCheckout opens a recurring-billing checkout session.
func (c *Client) CreateSubscriptionCheckout(ctx context.Context, email, contact string) (*CheckoutSession, error) {
	if c.SecretKey == "" {
		return nil, errors.New("PAYMENT_SECRET_KEY is not configured")
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer_email", email)
	form.Set("line_items[0][price]", c.PriceRef)
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[contact]", contact)
	form.Set("metadata[type]", "subscription")

	var parsed sessionResponse
	if err := c.postForm(ctx, "/checkout/sessions", form, &parsed); err != nil {
		return nil, err
	}
	return &CheckoutSession{SessionID: parsed.ID, CheckoutURL: parsed.URL}, nil
}

// CreateUnlockCheckout opens a one-off checkout session for a single deal.
func (c *Client) CreateUnlockCheckout(ctx context.Context, dealNumber, headline string, amount float64, email string) (*CheckoutSession, error) {
	if c.SecretKey == "" {
		return nil, errors.New("PAYMENT_SECRET_KEY is not configured")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer_email", email)
	form.Set("line_items[0][price_data][currency]", c.Currency)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", int(amount*100)))
	form.Set("line_items[0][price_data][product_data][name]", "Deal Unlock: "+dealNumber)
	form.Set("line_items[0][price_data][product_data][description]", truncate(headline, 200))
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[deal_number]", dealNumber)
	form.Set("metadata[type]", "deal_unlock")

	var parsed sessionResponse
	if err := c.postForm(ctx, "/checkout/sessions", form, &parsed); err != nil {
		return nil, err
	}
	return &CheckoutSession{SessionID: parsed.ID, CheckoutURL: parsed.URL}, nil
}

// CancelSubscription sets the subscription to cancel at period end. The
// subscriber keeps access until the paid period runs out; the ledger state
// flips when the provider's subscription_canceled webhook lands.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	if subscriptionRef == "" {
		return errors.New("subscription ref is required")
	}
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")
	return c.postForm(ctx, "/subscriptions/"+url.PathEscape(subscriptionRef), form, &struct{}{})
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// IssueRefund refunds the full payment. The idempotency key is derived from
// the payment ref so a retried call cannot double-refund on the provider side.
func (c *Client) IssueRefund(ctx context.Context, paymentRef, reason string) (*Refund, error) {
	if paymentRef == "" {
		return nil, errors.New("payment ref is required")
	}
	form := url.Values{}
	form.Set("payment_intent", paymentRef)
	form.Set("reason", reason)

	req, err := c.newFormRequest(ctx, "/refunds", form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotency-Key", uuid.NewSHA1(uuid.NameSpaceURL, []byte("refund:"+paymentRef)).String())

	var parsed refundResponse
	if err := c.do(req, &parsed); err != nil {
		return nil, err
	}
	return &Refund{
		RefundID: parsed.ID,
		Status:   parsed.Status,
		Amount:   float64(parsed.Amount) / 100,
	}, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := c.newFormRequest(ctx, path, form)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newFormRequest(ctx context.Context, path string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider rejected request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
