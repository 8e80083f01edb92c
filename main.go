// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fusetalk/fuselink/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	cfgFlag  = flag.String("config", "fuselink.json", "Path to config file")
	nickname = flag.String("nick", "", "Override identity.nickname")
	vibeTag  = flag.String("vibe", "", "Override match.vibe_tag")
	withStub = flag.Bool("stub", false, "Run the in-process coordination server")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("FuseLink v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	cfgPath, err := filepath.Abs(*cfgFlag)
	if err != nil {
		log.Fatalf("Invalid config path: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *nickname != "" {
		cfg.Identity.Nickname = *nickname
	}
	if *vibeTag != "" {
		cfg.Match.VibeTag = *vibeTag
	}
	if *withStub {
		cfg.Stub.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	printBanner(cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := Run(ctx, cfg); err != nil {
		log.Fatalf("Client failed: %v", err)
	}
}

func printBanner(cfgPath string, cfg *config.Config) {
	fmt.Println("FuseLink - meet someone new")
	fmt.Printf("  config:   %s\n", cfgPath)
	fmt.Printf("  nickname: %s\n", cfg.Identity.Nickname)
	fmt.Printf("  vibe:     %s (%s)\n", cfg.Match.VibeTag, cfg.Match.Language)
	fmt.Printf("  server:   %s\n", cfg.Server.APIBase)
	if cfg.Stub.Enabled {
		fmt.Printf("  stub:     %s\n", cfg.Stub.Bind)
	}
	fmt.Println()
}

func showUsage() {
	fmt.Println("FuseLink - random video chat client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fuselink [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config <path>  Config file (default fuselink.json)")
	fmt.Println("  -nick <name>    Override the configured nickname")
	fmt.Println("  -vibe <tag>     Override the vibe tag (music, tech, jokes,")
	fmt.Println("                  relationships, travel, random)")
	fmt.Println("  -stub           Run the in-process coordination server and")
	fmt.Println("                  point the client at it (local development)")
	fmt.Println("  -version        Show version")
	fmt.Println("  -h              Show this help message")
}
