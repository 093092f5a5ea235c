package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	errAgentUnavailable = errors.New("agent not available")
	errAgentRejected    = errors.New("agent rejected run request")
)

// Client talks to the Expert Finder agent's run endpoint over HTTP.
// Runs stream back as server-sent events.
type Client struct {
	baseURL    string
	cfg        ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig holds configuration for the agent client.
type ClientConfig struct {
	BaseURL               string
	ConnectAttempts       int
	ConnectRetryDelay     time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:               baseURL,
		ConnectAttempts:       2,
		ConnectRetryDelay:     time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// NewClient creates a client for the agent at baseURL.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		cfg:     cfg,
		httpClient: &http.Client{
			// No overall timeout: run streams are long-lived. The header
			// timeout still fails fast when the agent does not answer.
			Timeout: 0,
			Transport: &http.Transport{
				IdleConnTimeout:       5 * time.Minute,
				ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			},
		},
		logger: logger,
	}
}

// Stream is one in-flight agent run.
type Stream struct {
	body   io.ReadCloser
	logger *slog.Logger
}

// Start posts a run request and returns the event stream. A non-nil error
// here is a dispatch failure the caller may retry; errors after Start are
// delivered through the stream itself.
func (c *Client) Start(ctx context.Context, input RunInput) (*Stream, error) {
	body, err := encodeRunInput(input)
	if err != nil {
		return nil, fmt.Errorf("encode run input: %w", err)
	}

	resp, err := c.connect(ctx, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close rejected run body", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", errAgentRejected, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return &Stream{body: resp.Body, logger: c.logger}, nil
}

// connect posts to the agent with fast-fail behaviour: immediate failure on
// unknown hosts, one short retry only while the agent is still starting up.
func (c *Client) connect(ctx context.Context, body []byte) (*http.Response, error) {
	cfg := c.cfg

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create run request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		errStr := err.Error()
		if strings.Contains(errStr, "no such host") {
			return nil, fmt.Errorf("%w: %s", errAgentUnavailable, errStr)
		}
		if !strings.Contains(errStr, "connection refused") && !strings.Contains(errStr, "dial tcp") {
			return nil, fmt.Errorf("run request failed: %w", err)
		}

		if attempt < cfg.ConnectAttempts {
			c.logger.Debug("agent not ready, retrying", "attempt", attempt, "delay", cfg.ConnectRetryDelay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.ConnectRetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", errAgentUnavailable, cfg.ConnectAttempts, lastErr)
}

// Events iterates the decoded events of the run stream. Malformed payloads
// are skipped; transport failures end the iteration with an error.
func (s *Stream) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer func() {
			if err := s.body.Close(); err != nil {
				s.logger.Debug("failed to close run stream body", "error", err)
			}
		}()

		reader := bufio.NewReader(s.body)
		var data strings.Builder
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				trimmed := strings.TrimRight(line, "\r\n")
				switch {
				case strings.HasPrefix(trimmed, "data:"):
					data.WriteString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
				case trimmed == "" && data.Len() > 0:
					ev, parseErr := ParseEvent([]byte(data.String()))
					data.Reset()
					if parseErr != nil {
						// Not a recognized event; never fatal to the session.
						s.logger.Debug("skipping malformed agent event", "error", parseErr)
						break
					}
					if !yield(ev, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, fmt.Errorf("run stream read: %w", err))
				return
			}
		}
	}
}

// Close tears down the stream early.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Interrupt asks the agent to stop the active run for a thread.
func (c *Client) Interrupt(ctx context.Context, threadID string) error {
	body := []byte(fmt.Sprintf(`{"threadId":%q}`, threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create interrupt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("interrupt request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close interrupt body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("interrupt rejected: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Health probes the agent's capabilities endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/capabilities", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("agent health check failed: %w", err)
	}
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.logger.Debug("failed to close health body", "error", closeErr)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent health check: HTTP %d", resp.StatusCode)
	}
	return nil
}

func encodeRunInput(input RunInput) ([]byte, error) {
	return json.Marshal(input)
}
