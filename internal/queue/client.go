package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the matching REST endpoints. The push side lives in
// Coordinator; this type is plain request/response.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a matching API client authenticated by token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Join enters the matching queue. The response is either an immediate match
// or a queue position.
func (c *Client) Join(ctx context.Context, prefs Preferences) (*JoinResponse, error) {
	var out JoinResponse
	if err := c.postJSON(ctx, "/api/match/join/", prefs, &out); err != nil {
		return nil, fmt.Errorf("join queue: %w", err)
	}
	return &out, nil
}

// Leave removes the user from the queue.
func (c *Client) Leave(ctx context.Context) error {
	if err := c.postJSON(ctx, "/api/match/leave/", nil, nil); err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	return nil
}

// GetStats fetches queue statistics for monitoring.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/match/stats/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("queue stats: status %s", resp.Status)
	}
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("queue stats: decode: %w", err)
	}
	return &stats, nil
}

// postJSON posts body (may be nil) and decodes a 2xx response into out
// (may be nil).
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST %s: status %s", path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("POST %s: decode: %w", path, err)
		}
	}
	return nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
