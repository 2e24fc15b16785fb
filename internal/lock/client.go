package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LockClient defines the interface for the remote lock backend
type LockClient interface {
	GetState(ctx context.Context) (*LockState, error)
	Lock(ctx context.Context) (*LockState, error)
	Unlock(ctx context.Context) (*LockState, error)
	Trigger(ctx context.Context) (*LockState, error)
	Untrigger(ctx context.Context) (*LockState, error)
}

// Client implements LockClient over HTTP. It does not retry or cache.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new lock client. A zero timeout leaves requests unbounded
// apart from their context.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("lock"),
	}
}

// GetState reads the current lock state
func (c *Client) GetState(ctx context.Context) (*LockState, error) {
	return c.do(ctx, OpGetState)
}

// Lock arms the device
func (c *Client) Lock(ctx context.Context) (*LockState, error) {
	return c.do(ctx, OpLock)
}

// Unlock disarms the device
func (c *Client) Unlock(ctx context.Context) (*LockState, error) {
	return c.do(ctx, OpUnlock)
}

// Trigger marks motion as detected
func (c *Client) Trigger(ctx context.Context) (*LockState, error) {
	return c.do(ctx, OpTrigger)
}

// Untrigger clears detected motion
func (c *Client) Untrigger(ctx context.Context) (*LockState, error) {
	return c.do(ctx, OpUntrigger)
}

// do issues a single request for op and decodes the lock state body
func (c *Client) do(ctx context.Context, op Operation) (*LockState, error) {
	ep := endpoints[op]
	requestID := uuid.NewString()

	req, err := http.NewRequestWithContext(ctx, ep.method, c.baseURL+ep.path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", ep.action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Request failed",
			zap.String("op", string(op)),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", ep.action, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Request completed",
		zap.String("op", string(op)),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
		}
	}

	var state LockState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to %s: decode response: %w", ep.action, err)
	}

	return &state, nil
}

// statusText returns the status line without relying on the server to send a reason phrase
func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
