// Package api provides the HTTP surface of ClubAssist.
//
// It exposes the Telegram webhook receiver, the website chat widget endpoint,
// an alternate JSON chat endpoint, and small operational endpoints for health
// checks and webhook URL discovery.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fitclub/ClubAssist/internal/booking"
	"github.com/fitclub/ClubAssist/internal/telegram"
	"github.com/fitclub/ClubAssist/internal/urlconf"
)

// Default configuration constants
const (
	// DefaultAddr is the listen address when API_ADDR is not set.
	DefaultAddr = ":5000"
	// shutdownTimeout bounds the graceful drain on exit.
	shutdownTimeout = 5 * time.Second
)

// Replier produces assistant replies for a conversation key. Implemented by
// assistant.Client; nil means the consultation feature is not configured.
// Reply folds failures into fallback texts; TryReply surfaces them for
// endpoints that report failures in the HTTP status.
type Replier interface {
	Reply(ctx context.Context, userKey, message string) string
	TryReply(ctx context.Context, userKey, message string) (string, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string // listen address
	ControlCommand string // secret liveness probe text, empty disables
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithControlCommand sets the secret control string answered with "~".
func WithControlCommand(cmd string) Option {
	return func(o *Opts) { o.ControlCommand = cmd }
}

// Server routes inbound traffic to the booking form, the side-effect
// dispatcher, and the assistant driver.
type Server struct {
	addr           string
	controlCommand string

	sender     telegram.Sender
	forms      *booking.FormStore
	dispatcher *booking.Dispatcher
	assist     Replier
	urls       *urlconf.Store
}

// NewServer creates the API server. sender is required; assist and urls may
// be nil, degrading the consultation and URL-discovery features.
func NewServer(sender telegram.Sender, forms *booking.FormStore, dispatcher *booking.Dispatcher, assist Replier, urls *urlconf.Store, opts ...Option) (*Server, error) {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if sender == nil {
		return nil, fmt.Errorf("telegram sender is required")
	}
	if forms == nil {
		forms = booking.NewFormStore()
	}
	slog.Debug("api.NewServer: options set", "addr", cfg.Addr, "control_command_set", cfg.ControlCommand != "",
		"assistant_enabled", assist != nil, "url_store_set", urls != nil)

	return &Server{
		addr:           cfg.Addr,
		controlCommand: cfg.ControlCommand,
		sender:         sender,
		forms:          forms,
		dispatcher:     dispatcher,
		assist:         assist,
		urls:           urls,
	}, nil
}

// routes builds the request multiplexer for the server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.telegramWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/get_webhook_url", s.webhookURLHandler)
	mux.HandleFunc("/website-chat", s.widgetChatHandler)
	mux.HandleFunc("/chat", s.chatHandler)
	return mux
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}
