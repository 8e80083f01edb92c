// Package fuse implements the mutual-like flow: each side can like the
// current session, and only when both have liked does a fuse moment exist.
// Neither side ever learns the counterpart's like state before mutuality;
// the server answers with the fuse outcome and nothing else.
package fuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LikeOutcome is the server's answer to a like.
type LikeOutcome struct {
	Message      string `json:"message"`
	FuseMoment   bool   `json:"fuse_moment"`
	FuseMomentID string `json:"fuse_moment_id"`
}

// ContactCard carries the handles shared through a fuse moment. Empty
// fields overwrite on re-share, matching server update semantics.
type ContactCard struct {
	Whatsapp  string `json:"whatsapp"`
	Instagram string `json:"instagram"`
	Telegram  string `json:"telegram"`
	Note      string `json:"note"`
}

// Moment is one fuse moment as listed by the server.
type Moment struct {
	ID               string       `json:"id"`
	UserA            MomentUser   `json:"user_a"`
	UserB            MomentUser   `json:"user_b"`
	SummaryText      string       `json:"summary_text"`
	ContactExchanged bool         `json:"contact_exchanged"`
	CreatedAt        string       `json:"created_at"`
	Session          MomentOrigin `json:"session"`
}

// MomentUser is the nickname-only view of a participant.
type MomentUser struct {
	Nickname string `json:"nickname"`
}

// MomentOrigin names the session a moment came from.
type MomentOrigin struct {
	ID       string `json:"id"`
	TopicTag string `json:"topic_tag"`
}

// Client talks to the fuse REST endpoints.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a fuse API client authenticated by token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Like registers a like for the session and reports whether it completed a
// mutual pair.
func (c *Client) Like(ctx context.Context, sessionID string) (*LikeOutcome, error) {
	var out LikeOutcome
	path := "/api/chat/sessions/" + sessionID + "/like/"
	if err := c.postJSON(ctx, path, nil, &out); err != nil {
		return nil, fmt.Errorf("like session: %w", err)
	}
	return &out, nil
}

// ShareContact sends (or re-sends, updating) the contact card for a fuse
// moment.
func (c *Client) ShareContact(ctx context.Context, fuseMomentID string, card ContactCard) error {
	path := "/api/chat/fuse-moments/" + fuseMomentID + "/share-contact/"
	if err := c.postJSON(ctx, path, card, nil); err != nil {
		return fmt.Errorf("share contact: %w", err)
	}
	return nil
}

// ListMoments fetches the user's fuse moments, newest first.
func (c *Client) ListMoments(ctx context.Context) ([]Moment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/chat/fuse-moments/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list fuse moments: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("list fuse moments: status %s", resp.Status)
	}
	var out struct {
		Results []Moment `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list fuse moments: decode: %w", err)
	}
	return out.Results, nil
}

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
