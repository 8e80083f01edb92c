package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Match.VibeTag != "random" || cfg.Timing.HeartbeatSec != 30 {
		t.Fatalf("defaults %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fuselink.json")

	cfg := Default()
	cfg.Identity.Nickname = "ana"
	cfg.Match.VibeTag = "music"
	cfg.Server.APIBase = "https://fuse.example"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Identity.Nickname != "ana" || loaded.Match.VibeTag != "music" {
		t.Fatalf("loaded %+v", loaded)
	}
	// https base derives a wss websocket base.
	if loaded.Server.WSBase != "wss://fuse.example" {
		t.Fatalf("ws base %q", loaded.Server.WSBase)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Identity.Nickname = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatal("blank nickname accepted")
	}

	cfg = Default()
	cfg.Match.VibeTag = "existential-dread"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown vibe tag accepted")
	}
}

func TestValidateFillsDerivedValues(t *testing.T) {
	cfg := Default()
	cfg.Server.APIBase = "http://localhost:9000"
	cfg.Server.WSBase = ""
	cfg.Match.Language = ""
	cfg.Timing.OfferDelayMs = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.WSBase != "ws://localhost:9000" {
		t.Fatalf("ws base %q", cfg.Server.WSBase)
	}
	if cfg.Match.Language != "mixed" || cfg.Timing.OfferDelayMs != 1000 {
		t.Fatalf("derived values %+v", cfg)
	}
}
