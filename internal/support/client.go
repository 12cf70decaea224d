package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"empathai/internal/severity"
	logx "empathai/pkg/logx"
)

const (
	DefaultEndpoint = "http://127.0.0.1:8000/api/trigger-support"
	DefaultTimeout  = 10 * time.Second
)

type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	// UserID is forwarded to the backend when set.
	UserID string
}

// Request is the body posted to the trigger endpoint. Only message and
// severity are required by the backend.
type Request struct {
	Message  string        `json:"message"`
	Severity severity.Tier `json:"severity"`
	Source   string        `json:"source,omitempty"`
	Title    string        `json:"title,omitempty"`
	UserID   string        `json:"user_id,omitempty"`
	Hits     []string      `json:"hits,omitempty"`
}

type response struct {
	Reply string `json:"reply"`
}

// Client calls the trigger-support endpoint. FetchReply never fails: any
// problem yields the static fallback for the tier.
type Client struct {
	mu   sync.RWMutex
	cfg  ClientConfig
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg ClientConfig, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{http: hc, log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps endpoint and timeout on hot reload.
func (c *Client) Apply(cfg ClientConfig) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Client) config() ClientConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// FetchReply asks the backend for a reply to text at tier.
func (c *Client) FetchReply(ctx context.Context, text string, tier severity.Tier) Reply {
	return c.Fetch(ctx, Request{Message: text, Severity: tier})
}

// Fetch is FetchReply with the optional request fields.
func (c *Client) Fetch(ctx context.Context, req Request) Reply {
	cfg := c.config()
	if req.UserID == "" {
		req.UserID = cfg.UserID
	}
	reply, err := c.post(ctx, cfg, req)
	if err != nil {
		c.log.Warn("support endpoint failed; using fallback",
			logx.String("endpoint", cfg.Endpoint),
			logx.String("severity", req.Severity.String()),
			logx.Err(err),
		)
		return FallbackReply(req.Severity)
	}
	if strings.TrimSpace(reply) == "" {
		reply = DefaultReplyText
	}
	return Reply{Severity: req.Severity, Text: reply, DeepLink: ChatPath}
}

func (c *Client) post(ctx context.Context, cfg ClientConfig, req Request) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hr.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(hr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	return out.Reply, nil
}
