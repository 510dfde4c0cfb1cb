// update-webhook discovers the public tunnel URL, persists it as the shared
// base URL, and points the Telegram bot webhook at it.
//
// Run it after starting the ngrok tunnel; the API server and the website
// widget both derive their endpoints from the persisted record.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/fitclub/ClubAssist/internal/telegram"
	"github.com/fitclub/ClubAssist/internal/urlconf"
)

// Default configuration constants
const (
	// DefaultStateDir mirrors the API server's state directory default.
	DefaultStateDir = "/var/lib/clubassist"
	// discoveryAttempts bounds the wait for a starting ngrok agent.
	discoveryAttempts = 10
	// discoveryDelay separates discovery attempts.
	discoveryDelay = 2 * time.Second
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	stateDir := os.Getenv("CLUBASSIST_STATE_DIR")
	if stateDir == "" {
		stateDir = DefaultStateDir
	}

	var (
		baseURL  = flag.String("url", "", "Public base URL (skips ngrok discovery)")
		ngrokAPI = flag.String("ngrok-api", urlconf.DefaultNgrokAPI, "ngrok agent API endpoint")
		dirFlag  = flag.String("state-dir", stateDir, "Directory for persistent state files")
	)
	flag.Parse()

	ctx := context.Background()

	url := *baseURL
	if url == "" {
		discovered, err := urlconf.DiscoverNgrok(ctx, *ngrokAPI, discoveryAttempts, discoveryDelay)
		if err != nil {
			slog.Error("Failed to discover ngrok tunnel", "error", err)
			os.Exit(1)
		}
		url = discovered
	}

	urls := urlconf.NewStore(*dirFlag)
	if err := urls.Save(url); err != nil {
		slog.Error("Failed to persist base URL", "error", err)
		os.Exit(1)
	}
	saved, err := urls.Load()
	if err != nil {
		slog.Error("Failed to read back base URL", "error", err)
		os.Exit(1)
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		slog.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}
	tg, err := telegram.NewClient(telegram.WithToken(token))
	if err != nil {
		slog.Error("Failed to initialize Telegram client", "error", err)
		os.Exit(1)
	}
	if err := tg.SetWebhook(saved + "/"); err != nil {
		slog.Error("Failed to set Telegram webhook", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Webhook URL: %s/\n", saved)
	fmt.Printf("Widget URL:  %s/website-chat\n", saved)
}
