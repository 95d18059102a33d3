package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/internal/geo"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// Client fetches bounded-region snapshot sets from the upstream provider.
//
// Failure policy:
//   - 401: invalidate the cached token and retry once with a fresh one.
//   - 429: return *RateLimitedError with the retry-after hint; never
//     retried internally.
//   - 5xx / timeout: retried with exponential backoff up to MaxRetries;
//     once the budget is spent, a flagged fallback set is synthesized
//     (when enabled) or ErrUpstreamUnavailable is returned.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	tokens      *TokenCache
	maxRetries  int
	backoffBase time.Duration
	fallback    config.FallbackConfig
	logger      *logger.Logger
}

// NewClient creates a new upstream client
func NewClient(cfg config.UpstreamConfig, fallback config.FallbackConfig, tokens *TokenCache, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
		baseURL:     cfg.BaseURL,
		tokens:      tokens,
		maxRetries:  cfg.MaxRetries,
		backoffBase: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		fallback:    fallback,
		logger:      log.Named("upstream"),
	}
}

// FetchRegion fetches the current snapshot set for the given bounding
// box. The box is clamped to valid geographic coordinates before the
// query is built.
func (c *Client) FetchRegion(ctx context.Context, bbox geo.BBox) (*SnapshotSet, error) {
	bbox = bbox.Clamped()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * time.Duration(1<<uint(attempt-1))
			c.logger.Info("Retrying upstream fetch",
				logger.String("bbox", bbox.String()),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		set, err := c.fetchOnce(ctx, bbox)
		if err == nil {
			return set, nil
		}

		// Rate limiting and cancellation abort immediately; only
		// transient failures consume the retry budget.
		var rateErr *RateLimitedError
		if errors.As(err, &rateErr) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var transErr *TransientError
		if !errors.As(err, &transErr) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("Upstream fetch failed, may retry",
			logger.String("bbox", bbox.String()),
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.maxRetries+1))
	}

	if c.fallback.Enabled {
		c.logger.Warn("Upstream unavailable after retries - substituting synthetic fallback data",
			logger.String("bbox", bbox.String()),
			logger.Error(lastErr))
		return Synthesize(bbox, c.fallback.EntityCount, time.Now().UTC()), nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// fetchOnce performs a single region query, with at most one internal
// re-auth retry on 401.
func (c *Client) fetchOnce(ctx context.Context, bbox geo.BBox) (*SnapshotSet, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		// Exchange failed; proceed unauthenticated if the provider
		// allows it rather than failing the whole fetch.
		c.logger.Warn("Proceeding without bearer token", logger.Error(err))
		token = ""
	}

	resp, err := c.doRequest(ctx, bbox, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.logger.Debug("Upstream returned 401, refreshing token")
		c.tokens.Invalidate()

		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		resp, err = c.doRequest(ctx, bbox, token)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, &TransientError{StatusCode: resp.StatusCode}
	default:
		return nil, fmt.Errorf("unexpected upstream status code: %d", resp.StatusCode)
	}

	var raw rawStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse upstream JSON: %w", err)
	}

	set := &SnapshotSet{
		Snapshots: convertStates(&raw),
		FetchedAt: time.Now().UTC(),
	}

	c.logger.Debug("Fetched upstream snapshot set",
		logger.String("bbox", bbox.String()),
		logger.Int("snapshot_count", len(set.Snapshots)))

	return set, nil
}

func (c *Client) doRequest(ctx context.Context, bbox geo.BBox, token string) (*http.Response, error) {
	urlStr := fmt.Sprintf("%s/states/all?lamin=%f&lomin=%f&lamax=%f&lomax=%f",
		c.baseURL, bbox.LatMin, bbox.LonMin, bbox.LatMax, bbox.LonMax)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable transients.
		return nil, &TransientError{Err: err}
	}
	return resp, nil
}

// parseRetryAfter reads the Retry-After header, defaulting to 60s when
// absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}
