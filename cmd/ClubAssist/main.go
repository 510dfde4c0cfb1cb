// ClubAssist is a conversational booking assistant for a fitness club.
//
// It serves the Telegram bot webhook and the website chat widget, drives
// consultations through the OpenAI Assistants API, persists bookings to a
// Google Sheets spreadsheet, and notifies the operator chat about every new
// booking.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fitclub/ClubAssist/internal/api"
	"github.com/fitclub/ClubAssist/internal/assistant"
	"github.com/fitclub/ClubAssist/internal/booking"
	"github.com/fitclub/ClubAssist/internal/models"
	"github.com/fitclub/ClubAssist/internal/session"
	"github.com/fitclub/ClubAssist/internal/sheets"
	"github.com/fitclub/ClubAssist/internal/telegram"
	"github.com/fitclub/ClubAssist/internal/urlconf"
	"github.com/fitclub/ClubAssist/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for persistent state files.
	DefaultStateDir = "/var/lib/clubassist"
)

// Config holds environment configuration
type Config struct {
	TelegramToken     string
	OperatorChatID    int64
	OpenAIKey         string
	AssistantID       string
	SpreadsheetID     string
	CredentialsFile   string
	StateDir          string
	APIAddr           string
	ControlCommand    string
	ReplyTimeout      time.Duration
	PollInterval      time.Duration
	MaxThreadMessages int
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	apiAddr         *string
	openaiKey       *string
	assistantID     *string
	spreadsheetID   *string
	credentialsFile *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		OperatorChatID:    util.ParseInt64Env("ADMIN_CHAT_ID", 0),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		AssistantID:       os.Getenv("ASSISTANT_ID"),
		SpreadsheetID:     os.Getenv("GOOGLE_SHEET_ID"),
		CredentialsFile:   os.Getenv("GOOGLE_SHEETS_CREDENTIALS_FILE"),
		StateDir:          os.Getenv("CLUBASSIST_STATE_DIR"),
		APIAddr:           os.Getenv("API_ADDR"),
		ControlCommand:    os.Getenv("ADMIN_CONTROL_COMMAND"),
		ReplyTimeout:      util.ParseDurationEnv("ASSISTANT_REPLY_TIMEOUT", assistant.DefaultReplyTimeout),
		PollInterval:      util.ParseDurationEnv("ASSISTANT_POLL_INTERVAL", assistant.DefaultPollInterval),
		MaxThreadMessages: util.ParseIntEnv("MAX_THREAD_MESSAGES", assistant.DefaultMaxThreadMessages),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CLUBASSIST_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	return config
}

// parseCommandLineFlags defines and parses command line flags with config defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "Directory for persistent state files"),
		apiAddr:         flag.String("addr", config.APIAddr, "API server listen address"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key"),
		assistantID:     flag.String("assistant-id", config.AssistantID, "OpenAI assistant ID"),
		spreadsheetID:   flag.String("sheet-id", config.SpreadsheetID, "Google Sheets spreadsheet ID"),
		credentialsFile: flag.String("sheets-credentials", config.CredentialsFile, "Google service account credentials file"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"assistantSet", *flags.assistantID != "",
		"sheetSet", *flags.spreadsheetID != "",
		"credentialsSet", *flags.credentialsFile != "")
	return flags
}

// buildSheetsOptions constructs Google Sheets configuration options
func buildSheetsOptions(flags Flags) []sheets.Option {
	var sheetsOpts []sheets.Option
	if *flags.spreadsheetID != "" {
		sheetsOpts = append(sheetsOpts, sheets.WithSpreadsheetID(*flags.spreadsheetID))
	}
	if *flags.credentialsFile != "" {
		sheetsOpts = append(sheetsOpts, sheets.WithCredentialsFile(*flags.credentialsFile))
	}
	return sheetsOpts
}

// buildAssistantOptions constructs assistant configuration options
func buildAssistantOptions(flags Flags, config Config) []assistant.Option {
	var assistantOpts []assistant.Option
	if *flags.openaiKey != "" {
		assistantOpts = append(assistantOpts, assistant.WithAPIKey(*flags.openaiKey))
	}
	if *flags.assistantID != "" {
		assistantOpts = append(assistantOpts, assistant.WithAssistantID(*flags.assistantID))
	}
	assistantOpts = append(assistantOpts,
		assistant.WithReplyTimeout(config.ReplyTimeout),
		assistant.WithPollInterval(config.PollInterval),
		assistant.WithMaxThreadMessages(config.MaxThreadMessages),
	)
	return assistantOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if config.ControlCommand != "" {
		apiOpts = append(apiOpts, api.WithControlCommand(config.ControlCommand))
	}
	return apiOpts
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The Telegram bot is the one hard requirement; everything else degrades.
	if config.TelegramToken == "" {
		slog.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}
	tg, err := telegram.NewClient(
		telegram.WithToken(config.TelegramToken),
		telegram.WithOperatorChatID(config.OperatorChatID),
	)
	if err != nil {
		slog.Error("Failed to initialize Telegram client", "error", err)
		os.Exit(1)
	}

	var appender sheets.Appender
	if sheetsClient, err := sheets.NewClient(ctx, buildSheetsOptions(flags)...); err != nil {
		slog.Warn("Booking persistence disabled", "error", err)
	} else {
		appender = sheetsClient
	}

	dispatcher := booking.NewDispatcher(appender, tg)
	forms := booking.NewFormStore()
	sessions := session.NewStore()

	registry := assistant.NewToolRegistry()
	registry.Register(string(models.ToolTypeSaveBooking), func(ctx context.Context, call models.ToolCall) models.ToolResult {
		params, err := call.Function.ParseBookingParams()
		if err != nil {
			slog.Warn("save_booking_data: invalid arguments", "error", err)
			return assistant.FailureResult(call.ID, err.Error())
		}
		b := models.Booking{
			Name:    params.Name,
			Phone:   params.Phone,
			Service: params.Service,
			Date:    params.DateTime,
			Master:  params.MasterCategory,
			Comment: params.Comments,
		}
		if !dispatcher.SaveBooking(ctx, b, models.BookingSourceAssistant) {
			return assistant.FailureResult(call.ID, "failed to save booking")
		}
		return assistant.SuccessResult(call.ID)
	})

	var assist api.Replier
	if assistClient, err := assistant.NewClient(sessions, registry, buildAssistantOptions(flags, config)...); err != nil {
		slog.Warn("Assistant consultations disabled", "error", err)
	} else {
		assist = assistClient
	}

	urls := urlconf.NewStore(*flags.stateDir)
	if baseURL, err := urls.Load(); err != nil {
		slog.Warn("Webhook URL not registered yet, run update-webhook after starting the tunnel", "error", err)
	} else if err := tg.SetWebhook(baseURL + "/"); err != nil {
		slog.Warn("Failed to refresh Telegram webhook", "error", err, "baseURL", baseURL)
	}

	server, err := api.NewServer(tg, forms, dispatcher, assist, urls, buildAPIOptions(flags, config)...)
	if err != nil {
		slog.Error("Failed to initialize API server", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping ClubAssist",
		"addr", *flags.apiAddr,
		"sheets_enabled", appender != nil,
		"assistant_enabled", assist != nil,
		"operator_chat_set", config.OperatorChatID != 0)
	if err := server.Run(ctx); err != nil {
		slog.Error("ClubAssist failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ClubAssist exited successfully")
}
