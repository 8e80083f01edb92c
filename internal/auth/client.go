// Package auth handles guest registration against the coordination server
// and local inspection of the issued token.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the server-side identity behind a token.
type User struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	IsVisitor bool   `json:"is_visitor"`
}

// Credentials bundle a token with the user it identifies. The token rides
// in the Authorization header on REST calls and in the ?token= query on
// websocket upgrades.
type Credentials struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Client talks to the auth endpoints.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates an auth client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RegisterGuest creates a guest identity and returns its credentials.
func (c *Client) RegisterGuest(ctx context.Context, nickname string, isVisitor bool) (*Credentials, error) {
	body, err := json.Marshal(map[string]any{
		"nickname":   nickname,
		"is_visitor": isVisitor,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/auth/guest/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("guest registration: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("guest registration: status %s", resp.Status)
	}

	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("guest registration: decode: %w", err)
	}
	log.Printf("AUTH: registered guest %q (id %s)", creds.User.Nickname, creds.User.ID)
	return &creds, nil
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/auth/profile/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("profile: status %s", resp.Status)
	}
	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("profile: decode: %w", err)
	}
	return &u, nil
}

// Expired reports whether token carries an exp claim in the past. The claims
// are read without signature verification; the client only uses this to
// decide whether to re-register before dialing, the server remains the
// authority on validity.
func Expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Not a JWT (or garbled), let the server decide.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}

// LoadCredentials reads cached credentials from path. A missing file is not
// an error; it returns (nil, nil) and the caller registers fresh.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return &creds, nil
}

// Save caches the credentials at path for the next run. The file holds a
// bearer token, so group/other bits stay off.
func (c *Credentials) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Reusable reports whether cached credentials can identify nickname without
// re-registering: same nickname and a token whose exp claim has not passed.
func (c *Credentials) Reusable(nickname string, now time.Time) bool {
	return c != nil && c.Token != "" && c.User.Nickname == nickname && !Expired(c.Token, now)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
