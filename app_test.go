package main

import (
	"context"
	"testing"
	"time"

	"github.com/fusetalk/fuselink/internal/config"
)

// Quitting and signal-driven shutdown share one path: cancel the run
// context, let Run's deferred teardown close the channels and drain the
// stub. Run must actually return when that happens.
func TestRunStopsCleanlyOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.Nickname = "tester"
	cfg.Stub.Enabled = true
	cfg.Stub.Bind = "127.0.0.1:0"
	cfg.Timing.HeartbeatSec = 1
	cfg.Timing.ReconnectSec = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	// Let registration and the queue join land, then pull the plug.
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
