// Package authority talks to the remote verification authority and provides
// a reference authority server for development and testing.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alexandrut83/sentinel/sentinel"
)

// VerifyPath is the authority endpoint that confirms or refutes a hit
const VerifyPath = "/v1/sentinel/verify"

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	RateLimit   float64 // requests per second; 0 disables limiting
	Burst       int
	DeviceToken string
}

// Client is an HTTP implementation of sentinel.Authority. It sends exactly
// one request per Verify call and never retries; every failure is returned
// to the coordinator, which treats it as unavailable.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the authority at cfg.BaseURL
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = sentinel.DefaultVerifyTimeout
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.DeviceToken,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Verify asks the authority about req.ID
func (c *Client) Verify(ctx context.Context, req sentinel.VerificationRequest) (sentinel.VerificationResponse, error) {
	var resp sentinel.VerificationResponse

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return resp, fmt.Errorf("rate limit: %w", err)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+VerifyPath, bytes.NewReader(payload))
	if err != nil {
		return resp, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "Sentinel/"+sentinel.Version)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return resp, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return resp, fmt.Errorf("http %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
