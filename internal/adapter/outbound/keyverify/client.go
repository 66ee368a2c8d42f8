package keyverify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/shared/config"
	"github.com/notecompanion/server/internal/shared/metrics"
)

// ErrUnavailable is returned when the verification service cannot be
// reached, including while the circuit breaker is open. Callers treat
// it as "answer unknown", not as an invalid key.
var ErrUnavailable = errors.New("key verification unavailable")

// VerifyResult is the normalized answer from the verification service,
// regardless of which envelope shape it arrived in.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
	Error  string `json:"error,omitempty"`
}

// Verifier verifies long-lived API keys against the external service.
type Verifier interface {
	Verify(ctx context.Context, key string) (*VerifyResult, error)
}

// Client is an HTTP client for the key verification service with a
// circuit breaker around the remote call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*VerifyResult]
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient creates a new key verification client.
func NewClient(cfg *config.KeyVerifyConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "key-verify",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker[*VerifyResult](settings),
		metrics:    m,
		logger:     logger,
	}
}

// Verify checks a key with the remote service. An invalid key is a
// successful verification with Valid=false; only transport and server
// failures return an error.
func (c *Client) Verify(ctx context.Context, key string) (*VerifyResult, error) {
	result, err := c.breaker.Execute(func() (*VerifyResult, error) {
		return c.verify(ctx, key)
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordKeyVerify("error")
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	if c.metrics != nil {
		if result.Valid {
			c.metrics.RecordKeyVerify("valid")
		} else {
			c.metrics.RecordKeyVerify("invalid")
		}
	}
	return result, nil
}

func (c *Client) verify(ctx context.Context, key string) (*VerifyResult, error) {
	body, err := json.Marshal(map[string]string{"key": key})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/keys/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read verify response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		// The service answered: the key is not valid.
		return &VerifyResult{Valid: false}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("key verification status %d", resp.StatusCode)
	}

	result, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decodeEnvelope normalizes the two response shapes the service has
// been seen to produce: a flat object and the same object nested under
// a "data" key.
func decodeEnvelope(payload []byte) (*VerifyResult, error) {
	var envelope struct {
		VerifyResult
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	if len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		var nested VerifyResult
		if err := json.Unmarshal(envelope.Data, &nested); err != nil {
			return nil, fmt.Errorf("decode verify response data: %w", err)
		}
		return &nested, nil
	}

	result := envelope.VerifyResult
	return &result, nil
}
