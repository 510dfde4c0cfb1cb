package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fitclub/ClubAssist/internal/assistant"
	"github.com/fitclub/ClubAssist/internal/booking"
	"github.com/fitclub/ClubAssist/internal/models"
	"github.com/fitclub/ClubAssist/internal/telegram"
	"github.com/fitclub/ClubAssist/internal/urlconf"
)

type sentMessage struct {
	chatID   int64
	text     string
	withMenu bool
}

// fakeSender records outbound Telegram traffic.
type fakeSender struct {
	messages      []sentMessage
	notifications []string
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.messages = append(f.messages, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) SendMessageWithMenu(ctx context.Context, chatID int64, text string) error {
	f.messages = append(f.messages, sentMessage{chatID: chatID, text: text, withMenu: true})
	return nil
}

func (f *fakeSender) NotifyOperator(ctx context.Context, text string) error {
	f.notifications = append(f.notifications, text)
	return nil
}

// fakeReplier records assistant queries and answers with a fixed text or a
// scripted failure.
type fakeReplier struct {
	keys     []string
	messages []string
	reply    string
	err      error
}

func (f *fakeReplier) TryReply(ctx context.Context, userKey, message string) (string, error) {
	f.keys = append(f.keys, userKey)
	f.messages = append(f.messages, message)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeReplier) Reply(ctx context.Context, userKey, message string) string {
	reply, err := f.TryReply(ctx, userKey, message)
	if err != nil {
		return assistant.ErrorReply
	}
	return reply
}

// fakeBookingAppender records persisted bookings.
type fakeBookingAppender struct {
	rows []models.Booking
}

func (f *fakeBookingAppender) AppendBooking(ctx context.Context, b models.Booking) error {
	f.rows = append(f.rows, b)
	return nil
}

type testEnv struct {
	server   *Server
	sender   *fakeSender
	replier  *fakeReplier
	appender *fakeBookingAppender
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	sender := &fakeSender{}
	replier := &fakeReplier{reply: "ассистент отвечает"}
	appender := &fakeBookingAppender{}
	srv, err := NewServer(sender, booking.NewFormStore(), booking.NewDispatcher(appender, sender), replier, nil, opts...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testEnv{server: srv, sender: sender, replier: replier, appender: appender}
}

func postWebhookUpdate(t *testing.T, env *testEnv, chatID int64, text string) *httptest.ResponseRecorder {
	t.Helper()
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: chatID},
		},
	}
	body, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("failed to marshal update: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.telegramWebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook returned %d for %q", rec.Code, text)
	}
	return rec
}

func lastMessage(t *testing.T, env *testEnv) sentMessage {
	t.Helper()
	if len(env.sender.messages) == 0 {
		t.Fatal("no messages sent")
	}
	return env.sender.messages[len(env.sender.messages)-1]
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.server.healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestWebhookStartShowsGreetingWithMenu(t *testing.T) {
	env := newTestEnv(t)
	postWebhookUpdate(t, env, 100, "/start")

	msg := lastMessage(t, env)
	if msg.text != GreetingMessage || !msg.withMenu {
		t.Errorf("unexpected greeting: %+v", msg)
	}
}

func TestWebhookBookingFormCompletesAndSaves(t *testing.T) {
	env := newTestEnv(t)
	const chatID = int64(200)

	postWebhookUpdate(t, env, chatID, telegram.MenuBooking)
	if got := lastMessage(t, env).text; got != booking.PromptName {
		t.Fatalf("expected name prompt, got %q", got)
	}

	for _, text := range []string{"Alice", "+1555", "Стретчинг", "завтра 10:00", "Эксперт"} {
		postWebhookUpdate(t, env, chatID, text)
	}
	postWebhookUpdate(t, env, chatID, "-")

	if len(env.appender.rows) != 1 {
		t.Fatalf("expected one booking row, got %d", len(env.appender.rows))
	}
	row := env.appender.rows[0]
	if row.Name != "Alice" || row.Master != "Эксперт" || row.Comment != "" {
		t.Errorf("unexpected booking: %+v", row)
	}
	if len(env.sender.notifications) != 1 {
		t.Errorf("expected one operator notification, got %d", len(env.sender.notifications))
	}
	msg := lastMessage(t, env)
	if !strings.Contains(msg.text, "заявка принята") || !msg.withMenu {
		t.Errorf("unexpected confirmation: %+v", msg)
	}
	// The assistant was never consulted during the scripted form.
	if len(env.replier.keys) != 0 {
		t.Errorf("assistant consulted during form: %v", env.replier.keys)
	}
}

func TestWebhookControlCommandRepliesTilde(t *testing.T) {
	env := newTestEnv(t, WithControlCommand("ping-321"))
	postWebhookUpdate(t, env, 300, "ping-321")

	msg := lastMessage(t, env)
	if msg.text != "~" || msg.withMenu {
		t.Errorf("unexpected control reply: %+v", msg)
	}
	if len(env.replier.keys) != 0 {
		t.Error("control command must not reach the assistant")
	}
}

func TestWebhookControlCommandDisabledByDefault(t *testing.T) {
	env := newTestEnv(t)
	postWebhookUpdate(t, env, 301, telegram.MenuConsult)
	postWebhookUpdate(t, env, 301, "ping-321")

	// Without a configured control command the text is ordinary free text
	// and reaches the assistant instead of being intercepted.
	if len(env.replier.messages) != 1 || env.replier.messages[0] != "ping-321" {
		t.Errorf("expected assistant routing, got %v", env.replier.messages)
	}
	if msg := lastMessage(t, env); msg.text == "~" {
		t.Error("control reply sent although no control command is configured")
	}
}

func TestWebhookConsultModeRoutesToAssistant(t *testing.T) {
	env := newTestEnv(t)
	postWebhookUpdate(t, env, 400, telegram.MenuConsult)
	postWebhookUpdate(t, env, 400, "Сколько стоит абонемент?")

	if len(env.replier.keys) != 1 || env.replier.keys[0] != "400" {
		t.Errorf("unexpected assistant keys: %v", env.replier.keys)
	}
	msg := lastMessage(t, env)
	if msg.text != "ассистент отвечает" || !msg.withMenu {
		t.Errorf("unexpected reply: %+v", msg)
	}
}

func TestWebhookStatelessTextPointsToStart(t *testing.T) {
	env := newTestEnv(t)
	postWebhookUpdate(t, env, 999, "Сколько стоит абонемент?")

	// Without an active mode the bot never consults the assistant.
	if len(env.replier.keys) != 0 {
		t.Errorf("assistant consulted for a stateless chat: %v", env.replier.keys)
	}
	msg := lastMessage(t, env)
	if msg.text != StartHintMessage || !msg.withMenu {
		t.Errorf("unexpected reply: %+v", msg)
	}
}

func TestWebhookIgnoresNonMessageUpdates(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"update_id": 7}`))
	rec := httptest.NewRecorder()
	env.server.telegramWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for non-message update, got %d", rec.Code)
	}
	if len(env.sender.messages) != 0 {
		t.Errorf("expected no replies, got %v", env.sender.messages)
	}
}

func TestWidgetChatEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/website-chat", strings.NewReader(`{"message":"   "}`))
	rec := httptest.NewRecorder()
	env.server.widgetChatHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.replier.keys) != 0 {
		t.Error("empty message must be rejected before the assistant is consulted")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("missing CORS header, got %q", got)
	}
}

func TestWidgetChatRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	body := `{"message":"Когда вы работаете?","user_id":"web_user_abc","message_id":"m-17"}`
	req := httptest.NewRequest(http.MethodPost, "/website-chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.server.widgetChatHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp models.WidgetChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(models.APIStatusSuccess) || resp.Response != "ассистент отвечает" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.MessageID != "m-17" {
		t.Errorf("message_id not echoed: %q", resp.MessageID)
	}
	if len(env.replier.keys) != 1 || env.replier.keys[0] != "web_user_abc" {
		t.Errorf("unexpected assistant keys: %v", env.replier.keys)
	}
}

func TestWidgetChatDefaultIdentityFromRemoteAddr(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/website-chat", strings.NewReader(`{"message":"привет"}`))
	req.RemoteAddr = "203.0.113.9:54321"
	rec := httptest.NewRecorder()
	env.server.widgetChatHandler(rec, req)

	if len(env.replier.keys) != 1 || env.replier.keys[0] != "web_user_203.0.113.9" {
		t.Errorf("unexpected assistant keys: %v", env.replier.keys)
	}
}

func TestWidgetChatPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/website-chat", nil)
	rec := httptest.NewRecorder()
	env.server.widgetChatHandler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "OPTIONS") {
		t.Errorf("missing preflight methods header, got %q", got)
	}
}

func TestChatEndpointUsesSessionHeader(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("X-Session-ID", "widget-session-9")
	rec := httptest.NewRecorder()
	env.server.chatHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(env.replier.keys) != 1 || env.replier.keys[0] != "widget-session-9" {
		t.Errorf("unexpected assistant keys: %v", env.replier.keys)
	}
	var resp models.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Response != "ассистент отвечает" || resp.Error != "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestWebhookAcknowledgesWithPlainOK(t *testing.T) {
	env := newTestEnv(t)
	rec := postWebhookUpdate(t, env, 500, "/start")

	if got := rec.Body.String(); got != "ok" {
		t.Errorf("webhook body = %q, want ok", got)
	}
}

func TestWebhookChatShapedBodyFallsThroughToChat(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"привет"}`))
	req.Header.Set("X-Session-ID", "widget-7")
	rec := httptest.NewRecorder()
	env.server.telegramWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(env.replier.keys) != 1 || env.replier.keys[0] != "widget-7" {
		t.Errorf("unexpected assistant keys: %v", env.replier.keys)
	}
	var resp models.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Response != "ассистент отвечает" {
		t.Errorf("unexpected response: %+v", resp)
	}
	// Nothing was sent through the bot.
	if len(env.sender.messages) != 0 {
		t.Errorf("unexpected bot messages: %v", env.sender.messages)
	}
}

func TestWebhookBookingAcceptedWithoutPersistenceBackend(t *testing.T) {
	sender := &fakeSender{}
	replier := &fakeReplier{reply: "ассистент отвечает"}
	srv, err := NewServer(sender, booking.NewFormStore(), booking.NewDispatcher(nil, sender), replier, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	env := &testEnv{server: srv, sender: sender, replier: replier}

	postWebhookUpdate(t, env, 600, telegram.MenuBooking)
	for _, text := range []string{"Alice", "+1555", "Стретчинг", "завтра 10:00", "Эксперт", "-"} {
		postWebhookUpdate(t, env, 600, text)
	}

	msg := lastMessage(t, env)
	if msg.text != booking.AcceptedFallbackMessage || !msg.withMenu {
		t.Errorf("unexpected completion reply: %+v", msg)
	}
	if len(sender.notifications) != 0 {
		t.Errorf("expected no operator notification, got %v", sender.notifications)
	}
}

func TestWebhookURLEndpointReturnsPersistedURL(t *testing.T) {
	urls := urlconf.NewStore(t.TempDir())
	if err := urls.Save("https://abc123.ngrok-free.app"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	sender := &fakeSender{}
	srv, err := NewServer(sender, booking.NewFormStore(), booking.NewDispatcher(nil, sender), &fakeReplier{}, urls)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/get_webhook_url", nil)
	rec := httptest.NewRecorder()
	srv.webhookURLHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["url"] != "https://abc123.ngrok-free.app" {
		t.Errorf("unexpected payload: %v", resp)
	}
}

func TestWebhookURLEndpointMissingRecordReturns500(t *testing.T) {
	urls := urlconf.NewStore(t.TempDir())
	sender := &fakeSender{}
	srv, err := NewServer(sender, booking.NewFormStore(), booking.NewDispatcher(nil, sender), &fakeReplier{}, urls)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/get_webhook_url", nil)
	rec := httptest.NewRecorder()
	srv.webhookURLHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Errorf("expected error payload, got %v", resp)
	}
}

func TestChatEndpointAssistantFailureReturns500(t *testing.T) {
	env := newTestEnv(t)
	env.replier.err = errors.New("run finished with status failed")

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	env.server.chatHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp models.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Response != assistant.ErrorReply {
		t.Errorf("unexpected fallback: %+v", resp)
	}
}

func TestChatEndpointEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()
	env.server.chatHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.replier.keys) != 0 {
		t.Error("empty message must not reach the assistant")
	}
}
