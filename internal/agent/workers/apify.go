package workers

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

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/budget"
	"go.uber.org/zap"
)

// HTTPClient posts JSON and retries transport failures and non-2xx replies with exponential backoff.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}, retries: retries, backoff: backoff}
}

func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		lastErr = c.do(req, out)
		if lastErr == nil {
			return nil
		}
		var status *statusError
		if errors.As(lastErr, &status) && status.code >= 400 && status.code < 500 && status.code != http.StatusTooManyRequests {
			return lastErr
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	// best-effort body for the error message
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &statusError{code: resp.StatusCode, msg: resp.Status + ": " + strings.TrimSpace(string(b))}
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// ApifyClient runs scraping actors synchronously and returns their dataset items.
type ApifyClient struct {
	http    *HTTPClient
	baseURL string
	token   string
	logger  *zap.Logger
}

// NewApifyClient creates a client from the workers.apify section.
func NewApifyClient(cfg config.ApifyConfig, logger *zap.Logger) *ApifyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApifyClient{
		http:    NewHTTPClient(cfg.Timeout, cfg.MaxRetries, 0),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  logger.Named("apify"),
	}
}

// RunActor runs one actor to completion and decodes its dataset items. The item count is
// charged to the run's budget at the actor's per-1K price.
func RunActor[T any](ctx context.Context, c *ApifyClient, actor config.ActorConfig, input map[string]interface{}) ([]T, error) {
	if actor.ActorID == "" {
		return nil, fmt.Errorf("actor not configured")
	}
	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items", c.baseURL, url.PathEscape(actor.ActorID))
	if actor.MaxItems > 0 {
		endpoint += "?maxItems=" + fmt.Sprint(actor.MaxItems)
	}
	headers := map[string]string{"Authorization": "Bearer " + c.token}

	start := time.Now()
	var items []T
	if err := c.http.DoJSON(ctx, http.MethodPost, endpoint, headers, input, &items); err != nil {
		return nil, fmt.Errorf("actor %s: %w", actor.ActorID, err)
	}
	cost := float64(len(items)) / 1000 * actor.CostPer1KItem
	_ = budget.FromContext(ctx).Add(cost, 0)
	c.logger.Debug("actor finished",
		zap.String("actor", actor.ActorID),
		zap.Int("items", len(items)),
		zap.Float64("cost_usd", cost),
		zap.Duration("took", time.Since(start)))
	return items, nil
}
