// Package callback posts analysis outcomes back to the caller's endpoint.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"verifai/internal/domain"
)

// Deliverer sends one payload to a callback URL. Implementations make exactly
// one attempt.
type Deliverer interface {
	Deliver(ctx context.Context, url string, payload any) error
}

// Client POSTs JSON payloads with a bearer token.
type Client struct {
	token   string
	timeout time.Duration
	client  *http.Client
}

// NewClient builds a Client. token is sent as "Authorization: Bearer <token>".
func NewClient(token string, timeout time.Duration, httpClient *http.Client) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		token:   strings.TrimSpace(token),
		timeout: timeout,
		client:  httpClient,
	}
}

// Deliver implements Deliverer. Transport errors and non-2xx responses wrap
// domain.ErrDelivery.
func (c *Client) Deliver(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrDelivery, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post: %v", domain.ErrDelivery, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d body=%q", domain.ErrDelivery, resp.StatusCode, truncateBody(snippet))
	}
	return nil
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
