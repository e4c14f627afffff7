package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fareglitch/FareGlitch/internal/pkg/env"
)

const defaultConfirmationBaseURL = "https://api.duffel.com/air"

// ConfirmationClient talks to the authoritative offer-request API used to
// confirm that a flagged fare is actually bookable.
type ConfirmationClient struct {
	BaseURL  string
	APIToken string

	HTTPClient *http.Client
}

// NewConfirmationClientFromEnv builds the confirmation client from environment config.
func NewConfirmationClientFromEnv() *ConfirmationClient {
	return &ConfirmationClient{
		BaseURL:  strings.TrimRight(env.GetEnv("CONFIRMATION_API_BASE_URL", defaultConfirmationBaseURL), "/"),
		APIToken: strings.TrimSpace(env.GetEnv("CONFIRMATION_API_TOKEN", "")),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type offerRequest struct {
	Data struct {
		Slices []struct {
			Origin        string `json:"origin"`
			Destination   string `json:"destination"`
			DepartureDate string `json:"departure_date"`
		} `json:"slices"`
		Passengers []struct {
			Type string `json:"type"`
		} `json:"passengers"`
		CabinClass string `json:"cabin_class"`
	} `json:"data"`
}

type offerResponse struct {
	Data struct {
		Offers []struct {
			ID          string `json:"id"`
			TotalAmount string `json:"total_amount"`
			Currency    string `json:"total_currency"`
		} `json:"offers"`
	} `json:"data"`
}

// ValidateFare asks the authoritative source for live offers on the route and
// returns the cheapest one. Bookability and price tolerance are judged by the
// caller; the client only reports what the source sees.
func (c *ConfirmationClient) ValidateFare(ctx context.Context, origin, destination, date string, expectedPrice float64) (*FareCheck, error) {
	var reqBody offerRequest
	reqBody.Data.Slices = append(reqBody.Data.Slices, struct {
		Origin        string `json:"origin"`
		Destination   string `json:"destination"`
		DepartureDate string `json:"departure_date"`
	}{Origin: origin, Destination: destination, DepartureDate: date})
	reqBody.Data.Passengers = append(reqBody.Data.Passengers, struct {
		Type string `json:"type"`
	}{Type: "adult"})
	reqBody.Data.CabinClass = "economy"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/offer_requests", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Duffel-Version", "v2")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity {
		// Route not offered: the fare is simply not bookable.
		return &FareCheck{Bookable: false}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: confirmation status %d: %s", ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed offerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, err)
	}
	if len(parsed.Data.Offers) == 0 {
		return &FareCheck{Bookable: false}, nil
	}

	best := parsed.Data.Offers[0]
	bestPrice := parseAmount(best.TotalAmount)
	for _, offer := range parsed.Data.Offers[1:] {
		if p := parseAmount(offer.TotalAmount); p > 0 && (bestPrice <= 0 || p < bestPrice) {
			best = offer
			bestPrice = p
		}
	}
	if bestPrice <= 0 {
		return &FareCheck{Bookable: false}, nil
	}

	return &FareCheck{
		Bookable:    true,
		ActualPrice: bestPrice,
		Currency:    best.Currency,
		BookingLink: fmt.Sprintf("https://app.duffel.com/offers/%s", best.ID),
	}, nil
}

func parseAmount(s string) float64 {
	var v float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &v); err != nil {
		return 0
	}
	return v
}
