package coordinator

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/models"
)

// Callback is the payload posted back to the coordinator when a job ends.
type Callback struct {
	JobID        string            `json:"job_id"`
	Status       string            `json:"status"` // "completed" or "failed"
	RunnerName   string            `json:"runner_name,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Results      *models.JobResult `json:"results,omitempty"`
	Timestamp    int64             `json:"timestamp"`
}

// Client delivers signed job results to the coordinator's callback URL.
type Client struct {
	cfg        config.CoordinatorConfig
	runnerName string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a client. A client with an empty callback URL is valid and
// drops every delivery, so callers never need to special-case a coordinator
// that is not configured.
func New(cfg config.CoordinatorConfig, runnerName string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		runnerName: runnerName,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether a callback URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.CallbackURL != "" }

// Deliver posts one callback synchronously. The body is signed with
// HMAC-SHA256 when a secret is configured, header X-Prowl-Signature:
// sha256=<hex>.
func (c *Client) Deliver(ctx context.Context, cb *Callback) error {
	if !c.Enabled() {
		return nil
	}
	if cb.Timestamp == 0 {
		cb.Timestamp = time.Now().Unix()
	}

	body, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("coordinator: marshal callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("coordinator: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Prowl-Runner/1.0")
	if c.runnerName != "" {
		req.Header.Set("X-Prowl-Runner", c.runnerName)
	}
	if c.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Prowl-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("coordinator: callback returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync posts a callback in the background with staged retries
// (1s, 5s, 30s between attempts).
func (c *Client) DeliverAsync(cb *Callback) {
	if !c.Enabled() {
		return
	}
	go func() {
		delays := []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second}
		for attempt, delay := range delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
			err := c.Deliver(ctx, cb)
			cancel()
			if err == nil {
				c.logger.Info("callback delivered",
					"job_id", cb.JobID,
					"status", cb.Status,
					"attempt", attempt+1,
				)
				return
			}
			c.logger.Warn("callback delivery failed",
				"job_id", cb.JobID,
				"status", cb.Status,
				"attempt", attempt+1,
				"error", err,
			)
		}
		c.logger.Error("callback delivery exhausted all retries", "job_id", cb.JobID)
	}()
}
