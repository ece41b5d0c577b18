// Package source is the read-only client for the source platform
// (Trello): fetching full card data, and operationally, registering
// the webhook subscriptions the CLI manages.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"cardsync/internal/metrics"
	"cardsync/internal/taxonomy"
)

const (
	baseURL      = "https://api.trello.com/1"
	maxRetries   = 3
	initialDelay = 500 * time.Millisecond
	maxDelay     = 10 * time.Second
)

// Client is the Trello API client used by the dispatcher's fetch_card
// step and by the operational CLI's webhook management commands.
type Client struct {
	httpClient *http.Client
	apiKey     string
	apiToken   string
	logger     *slog.Logger
	limiter    *rate.Limiter
	baseURL    string
}

// NewClient constructs a Client honoring Trello's stated rate limit of
// ~300 requests / 10s with a token-bucket limiter.
func NewClient(apiKey, apiToken string, fetchTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: fetchTimeout},
		apiKey:     apiKey,
		apiToken:   apiToken,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(30), 300), // 300 burst / 10s steady-state ~ 30/s
		baseURL:    baseURL,
	}
}

func (c *Client) authParams() url.Values {
	return url.Values{
		"key":   {c.apiKey},
		"token": {c.apiToken},
	}
}

// Card is the subset of Trello's card payload the extractor and change
// classifier need.
type Card struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Desc        string          `json:"desc"`
	Closed      bool            `json:"closed"`
	IDBoard     string          `json:"idBoard"`
	IDList      string          `json:"idList"`
	Labels      json.RawMessage `json:"labels"`
	DateLastActivity string     `json:"dateLastActivity"`
	Attachments json.RawMessage `json:"attachments"`
}

// FetchCard fetches the full card (fields, attachments, comment actions).
// A 404 from Trello is reported as taxonomy.ErrCardAbsent — terminal
// and non-retryable for the calling notification, per spec.md §4.B.
func (c *Client) FetchCard(ctx context.Context, cardID string) (*Card, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch_card: rate limiter: %w", err)
	}
	metrics.SourceRateLimiterWaitDuration.Observe(time.Since(waitStart).Seconds())

	params := c.authParams()
	params.Set("fields", "all")
	params.Set("attachments", "true")
	params.Set("actions", "commentCard")
	reqURL := fmt.Sprintf("%s/cards/%s?%s", c.baseURL, cardID, params.Encode())

	body, status, err := c.doWithRetry(ctx, http.MethodGet, reqURL, metrics.OpFetchCard)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("fetch_card %s: %w", cardID, taxonomy.ErrCardAbsent)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch_card %s: unexpected status %d: %s", cardID, status, string(body))
	}

	var card Card
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("fetch_card %s: decode: %w", cardID, err)
	}
	return &card, nil
}

// doWithRetry performs the HTTP call with jittered exponential backoff,
// bounded to maxRetries, on network-level failures and 5xx responses.
// Exhausting the retry budget surfaces taxonomy.ErrFetchTransient.
func (c *Client) doWithRetry(ctx context.Context, method, reqURL, op string) ([]byte, int, error) {
	delay := initialDelay
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay + time.Duration(rand.Int63n(int64(delay)/2+1))):
			}
			delay = minDuration(delay*2, maxDelay)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: build request: %w", op, err)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)

		if err != nil {
			lastErr = err
			c.logger.Warn("source request failed", "op", op, "attempt", attempt, "error", err)
			metrics.SourceAPIRequestsTotal.WithLabelValues(op, "error").Inc()
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		metrics.SourceAPIRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
		metrics.SourceAPIRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(duration.Seconds())
		c.logger.Info("source_api_request", "op", op, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		}
		return body, resp.StatusCode, nil
	}

	return nil, 0, fmt.Errorf("%s: %w: %v", op, taxonomy.ErrFetchTransient, lastErr)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
