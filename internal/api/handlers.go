// Package api provides HTTP handlers for ClubAssist endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fitclub/ClubAssist/internal/assistant"
	"github.com/fitclub/ClubAssist/internal/booking"
	"github.com/fitclub/ClubAssist/internal/models"
	"github.com/fitclub/ClubAssist/internal/telegram"
)

// User-facing handler texts.
const (
	// GreetingMessage opens a fresh Telegram conversation.
	GreetingMessage = "Здравствуйте! Я виртуальный помощник фитнес-клуба. Нажмите «Быстрая запись», чтобы оформить заявку, или «Консультация», чтобы задать вопрос."
	// StartHintMessage answers free text from a chat with no active mode.
	StartHintMessage = "Воспользуйтесь командой /start"
	// controlReply acknowledges the secret control command.
	controlReply = "~"
	// emptyWidgetMessage rejects blank widget requests.
	emptyWidgetMessage = "Сообщение не может быть пустым"
)

// assistantReply resolves a message through the assistant, falling back to a
// fixed text when the consultation feature is not configured.
func (s *Server) assistantReply(r *http.Request, userKey, message string) string {
	if s.assist == nil {
		slog.Warn("Server.assistantReply: assistant not configured", "userKey", userKey)
		return assistant.UnavailableReply
	}
	return s.assist.Reply(r.Context(), userKey, message)
}

// telegramWebhookHandler receives Telegram update envelopes on POST /.
//
// The bot always answers 200 so Telegram never re-delivers an update; all
// delivery problems are handled by replying (or logging) inside.
func (s *Server) telegramWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.telegramWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("Server.telegramWebhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}

	var update tgbotapi.Update
	decodeErr := json.Unmarshal(body, &update)
	if decodeErr != nil || update.Message == nil || update.Message.Text == "" {
		// Not a usable Telegram envelope. A plain {"message": ...} body is
		// served as a chat request instead of being rejected.
		var chatReq models.ChatRequest
		if jsonErr := json.Unmarshal(body, &chatReq); jsonErr == nil && strings.TrimSpace(chatReq.Message) != "" {
			r.Body = io.NopCloser(bytes.NewReader(body))
			s.chatHandler(w, r)
			return
		}
		if decodeErr != nil {
			slog.Warn("Server.telegramWebhookHandler: failed to decode update", "error", decodeErr)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		// Updates without a text message (edits, joins, media) are
		// acknowledged and dropped.
		writeOK(w)
		return
	}

	chatID := update.Message.Chat.ID
	text := update.Message.Text
	slog.Debug("Server.telegramWebhookHandler: update received", "chatID", chatID, "length", len(text))

	ctx := r.Context()
	switch {
	case s.controlCommand != "" && text == s.controlCommand:
		// Liveness probe: a fixed reply, no state touched, no logging of the
		// command text itself.
		s.send(ctx, chatID, controlReply, false)

	case text == "/start":
		s.forms.Delete(chatID)
		s.send(ctx, chatID, GreetingMessage, true)

	case text == telegram.MenuBooking:
		s.send(ctx, chatID, s.forms.StartBooking(chatID), false)

	case text == telegram.MenuConsult:
		s.send(ctx, chatID, s.forms.StartConsult(chatID), false)

	default:
		s.routeMessage(r, chatID, text)
	}

	writeOK(w)
}

// routeMessage handles a non-command message. An open booking form consumes
// it, consult mode forwards it to the assistant, and a chat with no active
// mode is pointed at /start.
func (s *Server) routeMessage(r *http.Request, chatID int64, text string) {
	ctx := r.Context()

	mode, ok := s.forms.Mode(chatID)
	if !ok {
		s.send(ctx, chatID, StartHintMessage, true)
		return
	}

	if mode == booking.ModeBooking {
		reply, completed, _ := s.forms.Advance(chatID, text)
		if completed == nil {
			s.send(ctx, chatID, reply, false)
			return
		}
		switch {
		case !s.dispatcher.Configured():
			// The collected request is still accepted; the data survives in
			// the log for manual follow-up.
			slog.Error("Server.routeMessage: booking accepted without persistence backend",
				"chatID", chatID, "name", completed.Name, "phone", completed.Phone,
				"service", completed.Service, "date", completed.Date, "master", completed.Master)
			s.send(ctx, chatID, booking.AcceptedFallbackMessage, true)
		case s.dispatcher.SaveBooking(ctx, *completed, models.BookingSourceTelegram):
			s.send(ctx, chatID, booking.ConfirmationText(*completed), true)
		default:
			s.send(ctx, chatID, booking.SaveFailedMessage, true)
		}
		return
	}

	userKey := strconv.FormatInt(chatID, 10)
	s.send(ctx, chatID, s.assistantReply(r, userKey, text), true)
}

// send delivers a reply, optionally with the main menu keyboard, logging
// failures instead of propagating them to the webhook response.
func (s *Server) send(ctx context.Context, chatID int64, text string, withMenu bool) {
	var err error
	if withMenu {
		err = s.sender.SendMessageWithMenu(ctx, chatID, text)
	} else {
		err = s.sender.SendMessage(ctx, chatID, text)
	}
	if err != nil {
		slog.Error("Server.send: reply delivery failed", "error", err, "chatID", chatID)
	}
}

// healthHandler reports liveness on GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", map[string]string{
		"service": "ClubAssist",
		"time":    time.Now().Format(time.RFC3339),
	}))
}

// webhookURLHandler reports the persisted public base URL on
// GET /get_webhook_url.
func (s *Server) webhookURLHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.urls == nil {
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "URL not available"})
		return
	}
	baseURL, err := s.urls.Load()
	if err != nil {
		slog.Warn("Server.webhookURLHandler: base URL not available", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "URL not available"})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"url": baseURL})
}

// setWidgetCORSHeaders allows the website widget to call the API from any
// origin.
func setWidgetCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// widgetChatHandler serves the website chat widget on POST /website-chat,
// answering CORS preflights on OPTIONS.
func (s *Server) widgetChatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	setWidgetCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.WidgetChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.widgetChatHandler: failed to decode request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.WidgetChatError{Status: string(models.APIStatusError), Message: emptyWidgetMessage})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		// Rejected before any session is touched.
		writeJSONResponse(w, http.StatusBadRequest, models.WidgetChatError{Status: string(models.APIStatusError), Message: emptyWidgetMessage})
		return
	}

	userKey := req.UserID
	if userKey == "" {
		userKey = "web_user_" + clientHost(r)
	}
	slog.Debug("Server.widgetChatHandler: widget message", "userKey", userKey, "length", len(req.Message))

	reply := s.assistantReply(r, userKey, req.Message)
	writeJSONResponse(w, http.StatusOK, models.WidgetChatResponse{
		Status:    string(models.APIStatusSuccess),
		Response:  reply,
		MessageID: req.MessageID,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// chatHandler serves the alternate JSON chat endpoint on POST /chat,
// keyed by the X-Session-ID header.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.ChatResponse{Error: models.ErrNoRequestData.Error()})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.ChatResponse{Error: models.ErrEmptyMessage.Error()})
		return
	}

	userKey := r.Header.Get("X-Session-ID")
	if userKey == "" {
		userKey = "default"
	}

	if s.assist == nil {
		slog.Warn("Server.chatHandler: assistant not configured", "userKey", userKey)
		writeJSONResponse(w, http.StatusInternalServerError, models.ChatResponse{Response: assistant.UnavailableReply})
		return
	}
	reply, err := s.assist.TryReply(r.Context(), userKey, req.Message)
	if err != nil {
		slog.Error("Server.chatHandler: assistant reply failed", "error", err, "userKey", userKey)
		writeJSONResponse(w, http.StatusInternalServerError, models.ChatResponse{Response: assistant.FallbackFor(err)})
		return
	}
	writeJSONResponse(w, http.StatusOK, models.ChatResponse{Response: reply})
}

// writeOK acknowledges a webhook update with the plain body Telegram expects.
func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("ok")); err != nil {
		slog.Error("Server.writeOK: failed to write response", "error", err)
	}
}

// clientHost extracts the caller's host part, used as the fallback widget
// identity.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
