package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"TickSentinel/internal/model"
	"TickSentinel/internal/resolution"
)

// Broker is the request/response contract with the external historical-data
// API. The broker itself (auth, order placement, profile) is an opaque
// collaborator; only this slice of it is consumed here.
type Broker interface {
	GetCandles(ctx context.Context, symbol string, res resolution.Resolution, fromTs, toTs int64) (*CandleResponse, error)
	Name() string
}

// CandleResponse is the decoded broker reply. Status "ok" with candle rows
// is the only success shape; anything else is treated as a failed attempt.
type CandleResponse struct {
	Status  string        `json:"s"`
	Message string        `json:"message"`
	Candles [][6]float64  `json:"candles"` // [ts, open, high, low, close, volume]
}

// OK reports whether the response is a usable success.
func (r *CandleResponse) OK() bool { return r != nil && r.Status == "ok" }

// ToCandles converts the raw rows into model candles.
func (r *CandleResponse) ToCandles() []model.Candle {
	candles := make([]model.Candle, 0, len(r.Candles))
	for _, row := range r.Candles {
		candles = append(candles, model.Candle{
			Timestamp: int64(row[0]),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
		})
	}
	return candles
}

// HTTPBroker implements Broker against the broker's REST history endpoint.
type HTTPBroker struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPBroker creates a broker client with optional proxy support.
func NewHTTPBroker(baseURL, apiKey, proxyURL string) *HTTPBroker {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPBroker{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (b *HTTPBroker) Name() string { return "broker-rest" }

func (b *HTTPBroker) GetCandles(ctx context.Context, symbol string, res resolution.Resolution, fromTs, toTs int64) (*CandleResponse, error) {
	endpoint := fmt.Sprintf("%s/data/history?symbol=%s&resolution=%s&date_format=0&range_from=%d&range_to=%d&cont_flag=1",
		b.BaseURL, url.QueryEscape(symbol), string(res), fromTs, toTs)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	if b.APIKey != "" {
		req.Header.Set("Authorization", b.APIKey)
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker history: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("broker read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker: status %d, body: %s", resp.StatusCode, string(body))
	}

	var cr CandleResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("broker decode: %w", err)
	}
	return &cr, nil
}
