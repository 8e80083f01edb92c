package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config is the full client configuration, loaded from a JSON file.
type Config struct {
	Identity Identity `json:"identity"`
	Server   Server   `json:"server"`
	Match    Match    `json:"match"`
	Media    Media    `json:"media"`
	Timing   Timing   `json:"timing"`
	Stub     Stub     `json:"stub"`
}

type Identity struct {
	Nickname  string `json:"nickname"`
	IsVisitor bool   `json:"is_visitor"`
	// CredentialsFile caches the issued token between runs so the client
	// only re-registers when the token expired or the nickname changed.
	// Empty disables caching.
	CredentialsFile string `json:"credentials_file"`
}

type Server struct {
	// APIBase is the HTTP base URL, e.g. "http://localhost:8000".
	APIBase string `json:"api_base"`
	// WSBase is the websocket base URL, e.g. "ws://localhost:8000".
	// Empty derives it from APIBase (http→ws, https→wss).
	WSBase string `json:"ws_base"`
}

type Match struct {
	VibeTag  string `json:"vibe_tag"`
	Language string `json:"language"`
}

type Media struct {
	// ICEServers are STUN/TURN URLs handed to the peer connection.
	ICEServers []string `json:"ice_servers"`
	// VideoBitrate is the VP8 encoder target in bits/s.
	VideoBitrate int `json:"video_bitrate"`
	// MaxWidth/MaxHeight cap the capture resolution.
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
}

type Timing struct {
	// HeartbeatSec is the keepalive interval on every websocket channel.
	HeartbeatSec int `json:"heartbeat_seconds"`
	// ReconnectSec is the fixed backoff before a channel redial.
	ReconnectSec int `json:"reconnect_seconds"`
	// OfferDelayMs is how long the impolite peer waits after signaling
	// connects before sending the initial offer.
	OfferDelayMs int `json:"offer_delay_ms"`
}

type Stub struct {
	// If true, run the in-process coordination server on Bind and point the
	// client at it. Used for local two-client runs and development.
	Enabled bool   `json:"enabled"`
	Bind    string `json:"bind"`
	// Secret signs the stub's guest tokens. Empty generates a random one.
	Secret string `json:"secret"`
}

// VibeTags is the set of topics the matching queue accepts.
var VibeTags = []string{"music", "tech", "jokes", "relationships", "travel", "random"}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Identity: Identity{Nickname: "guest", CredentialsFile: "fuselink-credentials.json"},
		Server:   Server{APIBase: "http://localhost:8000"},
		Match:    Match{VibeTag: "random", Language: "mixed"},
		Media: Media{
			ICEServers:   []string{"stun:stun.l.google.com:19302"},
			VideoBitrate: 1_500_000,
			MaxWidth:     640,
			MaxHeight:    480,
		},
		Timing: Timing{HeartbeatSec: 30, ReconnectSec: 3, OfferDelayMs: 1000},
		Stub:   Stub{Bind: "127.0.0.1:8000"},
	}
}

// Load reads path and overlays it on the defaults. A missing file returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints and fills derived values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.Nickname) == "" {
		return fmt.Errorf("identity.nickname must not be empty")
	}
	if c.Server.APIBase == "" {
		return fmt.Errorf("server.api_base must not be empty")
	}
	if c.Server.WSBase == "" {
		c.Server.WSBase = deriveWSBase(c.Server.APIBase)
	}
	if !validVibeTag(c.Match.VibeTag) {
		return fmt.Errorf("match.vibe_tag %q: must be one of %s", c.Match.VibeTag, strings.Join(VibeTags, ", "))
	}
	if c.Match.Language == "" {
		c.Match.Language = "mixed"
	}
	if c.Timing.HeartbeatSec <= 0 {
		c.Timing.HeartbeatSec = 30
	}
	if c.Timing.ReconnectSec <= 0 {
		c.Timing.ReconnectSec = 3
	}
	if c.Timing.OfferDelayMs <= 0 {
		c.Timing.OfferDelayMs = 1000
	}
	return nil
}

func deriveWSBase(apiBase string) string {
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://")
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://")
	default:
		return "ws://" + apiBase
	}
}

func validVibeTag(tag string) bool {
	for _, t := range VibeTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Save writes the config back to path with indentation, creating the file
// if needed.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
