// Package vaultclient is the Vault Client (C5): a thin HTTP client to the
// external privacy vault with retry-with-jittered-backoff and a per-endpoint
// circuit breaker, tuned by the VaultRetry*/VaultBreaker* fields of
// config.Config.
package vaultclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/certen/rfq-core/pkg/config"
	"github.com/certen/rfq-core/pkg/metrics"
)

// Category is the vault error categorization from spec §4.5. Only
// CategoryTransient is retried.
type Category string

const (
	CategoryTransient               Category = "transient"
	CategoryValidation               Category = "validation"
	CategoryInsufficientBalance      Category = "insufficient_balance"
	CategoryNullifierUsedExternally  Category = "nullifier_used_externally"
	CategoryUnknown                  Category = "unknown"
)

// Error is a categorized vault failure.
type Error struct {
	Category Category
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// BalanceSummary is the vault's encrypted balance response for a commitment.
type BalanceSummary struct {
	Commitment string `json:"commitment"`
	Balance    string `json:"balance"`
}

// SettlementLegRequest drives one directional transfer leg of an atomic swap.
type SettlementLegRequest struct {
	FromCommitment string `json:"fromCommitment"`
	FromNullifier  string `json:"fromNullifier"`
	ToAddress      string `json:"toAddress"`
	Amount         string `json:"amount"`
	Token          string `json:"token"`
	ChainID        string `json:"chainId"`

	// IdempotencyKey lets the vault collapse retried leg-B attempts into a
	// single execution instead of transferring funds twice. Computed once by
	// the settlement coordinator and carried unchanged across retries.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// SettlementLegResult is the vault's response to a settlement leg call.
type SettlementLegResult struct {
	TxHash                string `json:"txHash"`
	ZKCompressed          bool   `json:"zkCompressed,omitempty"`
	CompressionSignature  string `json:"compressionSignature,omitempty"`
}

// Client is the vault HTTP client, keyed per chain_id so each remote
// endpoint gets its own circuit breaker.
type Client struct {
	httpClient *http.Client
	cfg        *config.Config
	chains     *config.ChainsConfig
	logger     *log.Logger
	metrics    *metrics.Collector

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

// New creates a vault client for the given chain topology and retry tuning.
func New(cfg *config.Config, chains *config.ChainsConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[VaultClient] ", log.LstdFlags)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.VaultRequestTimeout},
		cfg:        cfg,
		chains:     chains,
		logger:     logger,
		breakers:   make(map[string]*circuitBreaker),
	}
}

// WithMetrics attaches a Prometheus collector that records per-call latency.
// Safe to leave unset; calls are simply unobserved.
func (c *Client) WithMetrics(collector *metrics.Collector) *Client {
	c.metrics = collector
	return c
}

func (c *Client) breakerFor(chainID string) *circuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[chainID]
	if !ok {
		threshold := c.cfg.VaultBreakerThreshold
		cooldown := c.cfg.VaultBreakerCooldown
		if spec, ok := c.chains.Chains[chainID]; ok && spec.BreakerThresh > 0 {
			threshold = spec.BreakerThresh
		}
		b = newCircuitBreaker(threshold, cooldown)
		c.breakers[chainID] = b
	}
	return b
}

// BreakerSnapshots reports the current state of every chain's breaker, for
// the vault health observability endpoint.
func (c *Client) BreakerSnapshots() map[string]Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Snapshot, len(c.breakers))
	for chainID, b := range c.breakers {
		out[chainID] = b.Snapshot()
	}
	return out
}

func (c *Client) baseURL(chainID string) (string, error) {
	spec, ok := c.chains.Chains[chainID]
	if !ok || spec.VaultBaseURL == "" {
		return "", fmt.Errorf("no vault endpoint configured for chain_id %q", chainID)
	}
	return spec.VaultBaseURL, nil
}

// QueryBalance retrieves the encrypted balance summary for a deposit note.
func (c *Client) QueryBalance(ctx context.Context, commitment, chainID string) (*BalanceSummary, *Error) {
	base, err := c.baseURL(chainID)
	if err != nil {
		return nil, &Error{Category: CategoryValidation, Message: err.Error()}
	}

	var summary BalanceSummary
	apiErr := c.doWithRetry(ctx, chainID, "balance", http.MethodGet,
		fmt.Sprintf("%s/api/v1/vault/balance/%s", base, commitment), nil, &summary)
	if apiErr != nil {
		return nil, apiErr
	}
	return &summary, nil
}

// ExecuteSettlementLeg executes one directional transfer leg. Idempotent at
// the vault by fromNullifier, so a retried call after a timeout is safe.
func (c *Client) ExecuteSettlementLeg(ctx context.Context, req SettlementLegRequest) (*SettlementLegResult, *Error) {
	base, err := c.baseURL(req.ChainID)
	if err != nil {
		return nil, &Error{Category: CategoryValidation, Message: err.Error()}
	}

	var result SettlementLegResult
	apiErr := c.doWithRetry(ctx, req.ChainID, "settle", http.MethodPost,
		fmt.Sprintf("%s/api/v1/vault/settle", base), req, &result)
	if apiErr != nil {
		return nil, apiErr
	}
	return &result, nil
}

// doWithRetry issues one HTTP call with exponential-backoff-with-jitter
// retry on transient failures, short-circuited by the per-chain breaker.
func (c *Client) doWithRetry(ctx context.Context, chainID, endpoint, method, url string, body interface{}, out interface{}) *Error {
	breaker := c.breakerFor(chainID)

	attempts := c.cfg.VaultRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr *Error
	for attempt := 0; attempt < attempts; attempt++ {
		if !breaker.Allow() {
			return &Error{Category: CategoryTransient, Message: "circuit breaker open"}
		}

		start := time.Now()
		err := c.doOnce(ctx, method, url, body, out)
		if c.metrics != nil {
			c.metrics.ObserveVaultCall(chainID, endpoint, time.Since(start))
		}
		if err == nil {
			breaker.RecordSuccess()
			return nil
		}

		lastErr = err
		if err.Category != CategoryTransient {
			breaker.RecordFailure()
			return err
		}
		breaker.RecordFailure()

		if attempt == attempts-1 {
			break
		}
		delay := backoffWithJitter(c.cfg.VaultRetryBaseDelay, c.cfg.VaultRetryMaxDelay, attempt)
		select {
		case <-ctx.Done():
			return &Error{Category: CategoryTransient, Message: "context cancelled during retry backoff"}
		case <-time.After(delay):
		}
	}

	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, url string, body interface{}, out interface{}) *Error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Category: CategoryValidation, Message: fmt.Sprintf("marshal request: %v", err)}
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return &Error{Category: CategoryValidation, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Category: CategoryTransient, Message: fmt.Sprintf("vault request failed: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return &Error{Category: CategoryTransient, Message: fmt.Sprintf("vault returned %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusConflict:
		return &Error{Category: CategoryNullifierUsedExternally, Message: "nullifier already used at vault"}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return &Error{Category: CategoryInsufficientBalance, Message: "insufficient balance"}
	case resp.StatusCode >= 400:
		return &Error{Category: CategoryValidation, Message: fmt.Sprintf("vault returned %d", resp.StatusCode)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Category: CategoryUnknown, Message: fmt.Sprintf("decode vault response: %v", err)}
		}
	}
	return nil
}

// backoffWithJitter computes exponential backoff with full jitter, capped
// at maxDelay.
func backoffWithJitter(base, maxDelay time.Duration, attempt int) time.Duration {
	exp := base << uint(attempt)
	if exp <= 0 || exp > maxDelay {
		exp = maxDelay
	}
	jitterRange, err := rand.Int(rand.Reader, big.NewInt(int64(exp)))
	if err != nil {
		return exp
	}
	return time.Duration(jitterRange.Int64())
}
