package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fareglitch/FareGlitch/internal/pkg/env"
)

const defaultDiscoveryBaseURL = "https://api.amadeus.com/v1"

// ErrSourceUnavailable marks a transient upstream failure; the scan cycle
// logs it and continues with the remaining origins.
var ErrSourceUnavailable = errors.New("price source unavailable")

// DiscoveryClient talks to the inspiration-search style endpoint that serves
// cached prices found by other users, not live inventory.
type DiscoveryClient struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

// NewDiscoveryClientFromEnv builds the discovery client from environment config.
func NewDiscoveryClientFromEnv() *DiscoveryClient {
	return &DiscoveryClient{
		BaseURL: strings.TrimRight(env.GetEnv("DISCOVERY_API_BASE_URL", defaultDiscoveryBaseURL), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("DISCOVERY_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type discoveryResponse struct {
	Data []struct {
		Origin        string `json:"origin"`
		Destination   string `json:"destination"`
		DepartureDate string `json:"departureDate"`
		Price         struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"data"`
}

// QueryCheapDestinations fetches cached destination prices from an origin.
func (c *DiscoveryClient) QueryCheapDestinations(ctx context.Context, origin string, maxPrice float64) ([]FareOption, error) {
	q := url.Values{}
	q.Set("origin", origin)
	if maxPrice > 0 {
		q.Set("maxPrice", strconv.Itoa(int(maxPrice)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/shopping/flight-destinations?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: discovery status %d: %s", ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, err)
	}

	options := make([]FareOption, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		price, err := strconv.ParseFloat(item.Price.Total, 64)
		if err != nil || price <= 0 {
			continue
		}
		currency := item.Price.Currency
		if currency == "" {
			currency = "USD"
		}
		options = append(options, FareOption{
			Destination:   item.Destination,
			Price:         price,
			Currency:      currency,
			DepartureDate: item.DepartureDate,
		})
	}
	return options, nil
}
