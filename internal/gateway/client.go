package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/yvault/pkg/api"
)

// RetryConfig defines retry behavior for idempotent gateway requests.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryableStatus lists HTTP status codes that should be retried.
	RetryableStatus []int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		RetryableStatus: []int{429, 502, 503, 504},
	}
}

// RateLimiter spaces out calls to at most one per interval.
type RateLimiter struct {
	mu       sync.Mutex
	lastCall time.Time
	interval time.Duration
}

func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	if requestsPerSecond <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{interval: time.Duration(float64(time.Second) / requestsPerSecond)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	wait := time.Duration(0)
	if !rl.lastCall.IsZero() {
		if elapsed := time.Since(rl.lastCall); elapsed < rl.interval {
			wait = rl.interval - elapsed
		}
	}
	rl.lastCall = time.Now().Add(wait)
	rl.mu.Unlock()

	if wait == 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// APIError is a non-2xx gateway reply.
type APIError struct {
	Status int
	Body   api.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d %s: %s", e.Status, e.Body.Kind, e.Body.Error)
}

// Client talks to a running gateway. GET requests are retried with exponential
// backoff; state-changing requests are sent once.
type Client struct {
	base    string
	token   string
	http    *http.Client
	retry   RetryConfig
	limiter *RateLimiter
}

func NewClient(baseURL, token string, timeout time.Duration, requestsPerSecond float64) *Client {
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		retry:   DefaultRetryConfig(),
		limiter: NewRateLimiter(requestsPerSecond),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	attempts := 1
	if method == http.MethodGet {
		attempts += c.retry.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt - 1)
			log.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Str("path", path).Msg("gateway request failed, retrying")
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode}
			if json.Unmarshal(raw, &apiErr.Body) != nil {
				apiErr.Body.Error = strings.TrimSpace(string(raw))
			}
			if c.shouldRetry(resp.StatusCode) {
				lastErr = apiErr
				continue
			}
			return apiErr
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) shouldRetry(status int) bool {
	for _, code := range c.retry.RetryableStatus {
		if status == code {
			return true
		}
	}
	return false
}

// calculateDelay is exponential backoff with +/-25% jitter, capped at MaxDelay.
func (c *Client) calculateDelay(attempt int) time.Duration {
	delay := float64(c.retry.InitialDelay) * math.Pow(c.retry.BackoffFactor, float64(attempt))
	delay += delay * 0.25 * (2*rand.Float64() - 1)
	if delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func vaultPath(vault, suffix string) string {
	return "/v0/vaults/" + url.PathEscape(vault) + suffix
}

func (c *Client) Heartbeat(ctx context.Context) (api.HeartbeatResponse, error) {
	var out api.HeartbeatResponse
	err := c.do(ctx, http.MethodGet, "/v0/heartbeat", nil, &out)
	return out, err
}

func (c *Client) Vaults(ctx context.Context) (api.VaultsResponse, error) {
	var out api.VaultsResponse
	err := c.do(ctx, http.MethodGet, "/v0/vaults", nil, &out)
	return out, err
}

func (c *Client) TotalBalance(ctx context.Context, vault string) (api.AmountResponse, error) {
	var out api.AmountResponse
	err := c.do(ctx, http.MethodGet, vaultPath(vault, "/balance"), nil, &out)
	return out, err
}

func (c *Client) TotalSupply(ctx context.Context, vault string) (api.AmountResponse, error) {
	var out api.AmountResponse
	err := c.do(ctx, http.MethodGet, vaultPath(vault, "/supply"), nil, &out)
	return out, err
}

func (c *Client) SupportedToken(ctx context.Context, vault string) (api.TokenResponse, error) {
	var out api.TokenResponse
	err := c.do(ctx, http.MethodGet, vaultPath(vault, "/supported-token"), nil, &out)
	return out, err
}

func (c *Client) ShareToken(ctx context.Context, vault string) (api.TokenResponse, error) {
	var out api.TokenResponse
	err := c.do(ctx, http.MethodGet, vaultPath(vault, "/share-token"), nil, &out)
	return out, err
}

func (c *Client) Pending(ctx context.Context, vault string) (api.PendingResponse, error) {
	var out api.PendingResponse
	err := c.do(ctx, http.MethodGet, vaultPath(vault, "/pending"), nil, &out)
	return out, err
}

func (c *Client) RegistryVaults(ctx context.Context, registry string) (api.RegistryResponse, error) {
	var out api.RegistryResponse
	err := c.do(ctx, http.MethodGet, "/v0/registries/"+url.PathEscape(registry)+"/vaults", nil, &out)
	return out, err
}

func (c *Client) Instantiate(ctx context.Context, req api.InstantiateRequest) (api.OperationResponse, error) {
	var out api.OperationResponse
	err := c.do(ctx, http.MethodPost, "/v0/vaults", req, &out)
	return out, err
}

func (c *Client) Deposit(ctx context.Context, vault string, req api.DepositRequest) (api.OperationResponse, error) {
	var out api.OperationResponse
	err := c.do(ctx, http.MethodPost, vaultPath(vault, "/deposit"), req, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, vault string, req api.WithdrawRequest) (api.OperationResponse, error) {
	var out api.OperationResponse
	err := c.do(ctx, http.MethodPost, vaultPath(vault, "/withdraw"), req, &out)
	return out, err
}

func (c *Client) RunStrategy(ctx context.Context, vault string, req api.SenderRequest) (api.OperationResponse, error) {
	var out api.OperationResponse
	err := c.do(ctx, http.MethodPost, vaultPath(vault, "/strategy"), req, &out)
	return out, err
}
