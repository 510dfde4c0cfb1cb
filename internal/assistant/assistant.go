// Package assistant drives conversations through the OpenAI Assistants API.
//
// Each user key owns one assistant thread (rotated after a configured number
// of messages). A reply is produced by posting the inbound message to the
// thread, starting a run, polling it under a bounded deadline, servicing any
// requires_action pauses through the tool registry, and returning the newest
// assistant message with citation markers and markdown stripped.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/pagination"
	"github.com/openai/openai-go/packages/param"

	"github.com/fitclub/ClubAssist/internal/models"
	"github.com/fitclub/ClubAssist/internal/session"
)

// User-facing fallback replies. The driver never surfaces raw API errors.
const (
	// ErrorReply is returned when the run fails or an API call errors.
	ErrorReply = "Извините, произошла ошибка при обработке запроса. Попробуйте позже."
	// TimeoutReply is returned when the run does not finish before the
	// reply deadline.
	TimeoutReply = "Извините, время ожидания ответа истекло. Попробуйте задать вопрос еще раз."
	// UnavailableReply is used by callers when the assistant feature is not
	// configured at all.
	UnavailableReply = "Извините, Assistant API временно недоступен. Воспользуйтесь быстрой записью или обратитесь к администратору."
)

// Default configuration constants
const (
	// DefaultPollInterval is the delay between run status checks.
	DefaultPollInterval = 1 * time.Second
	// DefaultReplyTimeout bounds the whole reply operation.
	DefaultReplyTimeout = 30 * time.Second
	// DefaultMaxThreadMessages is the per-thread message budget before the
	// session is moved to a fresh thread.
	DefaultMaxThreadMessages = 12
)

// errReplyTimeout marks a run that was still in flight when the deadline hit.
var errReplyTimeout = errors.New("assistant reply deadline exceeded")

// threadsAPI is the minimal thread-creation surface of the OpenAI client.
type threadsAPI interface {
	New(ctx context.Context, body openai.BetaThreadNewParams, opts ...option.RequestOption) (*openai.Thread, error)
}

// messagesAPI is the minimal thread-message surface of the OpenAI client.
type messagesAPI interface {
	New(ctx context.Context, threadID string, body openai.BetaThreadMessageNewParams, opts ...option.RequestOption) (*openai.Message, error)
	List(ctx context.Context, threadID string, query openai.BetaThreadMessageListParams, opts ...option.RequestOption) (*pagination.CursorPage[openai.Message], error)
}

// runsAPI is the minimal run surface of the OpenAI client.
type runsAPI interface {
	New(ctx context.Context, threadID string, body openai.BetaThreadRunNewParams, opts ...option.RequestOption) (*openai.Run, error)
	Get(ctx context.Context, threadID string, runID string, opts ...option.RequestOption) (*openai.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID string, runID string, body openai.BetaThreadRunSubmitToolOutputsParams, opts ...option.RequestOption) (*openai.Run, error)
}

// Opts holds configuration options for the assistant client.
type Opts struct {
	APIKey            string        // OpenAI API key, required
	AssistantID       string        // assistant to run against, required
	PollInterval      time.Duration // run polling interval
	ReplyTimeout      time.Duration // overall reply deadline
	MaxThreadMessages int           // thread rotation threshold, 0 disables
}

// Option defines a configuration option for the assistant client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAssistantID sets the assistant identifier.
func WithAssistantID(id string) Option {
	return func(o *Opts) { o.AssistantID = id }
}

// WithPollInterval overrides the run polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// WithReplyTimeout overrides the overall reply deadline.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ReplyTimeout = d }
}

// WithMaxThreadMessages overrides the thread rotation threshold.
func WithMaxThreadMessages(n int) Option {
	return func(o *Opts) { o.MaxThreadMessages = n }
}

// Client produces assistant replies for conversation keys.
type Client struct {
	threads  threadsAPI
	messages messagesAPI
	runs     runsAPI

	sessions *session.Store
	registry *ToolRegistry

	assistantID       string
	pollInterval      time.Duration
	replyTimeout      time.Duration
	maxThreadMessages int
}

// NewClient creates an assistant client from the provided options. The API
// key and assistant ID are required; a missing value is a configuration error
// and the caller degrades the consultation feature instead of crashing.
func NewClient(sessions *session.Store, registry *ToolRegistry, opts ...Option) (*Client, error) {
	cfg := Opts{
		PollInterval:      DefaultPollInterval,
		ReplyTimeout:      DefaultReplyTimeout,
		MaxThreadMessages: DefaultMaxThreadMessages,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("assistant.NewClient: options set", "api_key_set", cfg.APIKey != "", "assistant_set", cfg.AssistantID != "",
		"pollInterval", cfg.PollInterval, "replyTimeout", cfg.ReplyTimeout, "maxThreadMessages", cfg.MaxThreadMessages)

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("assistant ID not configured")
	}

	api := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	c := &Client{
		threads:           &api.Beta.Threads,
		messages:          &api.Beta.Threads.Messages,
		runs:              &api.Beta.Threads.Runs,
		sessions:          sessions,
		registry:          registry,
		assistantID:       cfg.AssistantID,
		pollInterval:      cfg.PollInterval,
		replyTimeout:      cfg.ReplyTimeout,
		maxThreadMessages: cfg.MaxThreadMessages,
	}
	slog.Info("assistant.NewClient: client initialized", "assistantID", cfg.AssistantID)
	return c, nil
}

// TryReply produces the assistant's answer to message for the given
// conversation key, surfacing the failure to the caller. Concurrent calls for
// the same key are serialized by the session store; different keys proceed
// independently.
func (c *Client) TryReply(ctx context.Context, userKey, message string) (string, error) {
	var reply string
	err := c.sessions.Do(userKey, func(s *session.Session) error {
		var convErr error
		reply, convErr = c.converse(ctx, s, message)
		return convErr
	})
	return reply, err
}

// Reply is TryReply with failures folded into the fixed fallback texts, for
// surfaces that always deliver some answer to the user.
func (c *Client) Reply(ctx context.Context, userKey, message string) string {
	reply, err := c.TryReply(ctx, userKey, message)
	if err == nil {
		return reply
	}
	slog.Error("Client.Reply: conversation failed", "error", err, "userKey", userKey)
	return FallbackFor(err)
}

// FallbackFor maps a reply failure to the fixed user-facing fallback text.
func FallbackFor(err error) string {
	if errors.Is(err, errReplyTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return TimeoutReply
	}
	return ErrorReply
}

// converse runs one message through the session's thread. It is called under
// the session lock, so s may be mutated freely.
func (c *Client) converse(ctx context.Context, s *session.Session, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.replyTimeout)
	defer cancel()

	if s.ThreadID == "" {
		threadID, err := c.newThread(ctx)
		if err != nil {
			return "", err
		}
		s.ThreadID = threadID
	}

	if s.BumpAndMaybeRotate(c.maxThreadMessages) {
		threadID, err := c.newThread(ctx)
		if err != nil {
			return "", err
		}
		slog.Info("Client.converse: rotating thread", "userKey", s.UserKey, "oldThreadID", s.ThreadID, "newThreadID", threadID)
		s.ThreadID = threadID
	}

	if _, err := c.messages.New(ctx, s.ThreadID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: param.NewOpt(message)},
	}); err != nil {
		return "", fmt.Errorf("failed to post message to thread: %w", err)
	}

	run, err := c.runs.New(ctx, s.ThreadID, openai.BetaThreadRunNewParams{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	slog.Debug("Client.converse: run started", "userKey", s.UserKey, "threadID", s.ThreadID, "runID", run.ID)

	if err := c.awaitRun(ctx, s.ThreadID, run.ID); err != nil {
		return "", err
	}
	return c.latestAssistantText(ctx, s.ThreadID)
}

func (c *Client) newThread(ctx context.Context) (string, error) {
	thread, err := c.threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	return thread.ID, nil
}

// awaitRun polls the run until it completes, servicing requires_action pauses
// through the tool registry. Terminal failure states and the context deadline
// both abort the wait.
func (c *Client) awaitRun(ctx context.Context, threadID, runID string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		run, err := c.runs.Get(ctx, threadID, runID)
		if err != nil {
			return fmt.Errorf("failed to poll run: %w", err)
		}

		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusRequiresAction:
			if err := c.serviceToolCalls(ctx, threadID, run); err != nil {
				return err
			}
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired, openai.RunStatusIncomplete:
			slog.Error("Client.awaitRun: run reached terminal failure", "threadID", threadID, "runID", runID, "status", run.Status)
			return fmt.Errorf("run finished with status %s", run.Status)
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			// Still working, wait for the next tick.
		default:
			slog.Warn("Client.awaitRun: unexpected run status", "threadID", threadID, "runID", runID, "status", run.Status)
		}

		select {
		case <-ctx.Done():
			return errReplyTimeout
		case <-ticker.C:
		}
	}
}

// serviceToolCalls dispatches every requested tool call and submits the
// outputs back so the run can resume.
func (c *Client) serviceToolCalls(ctx context.Context, threadID string, run *openai.Run) error {
	requested := run.RequiredAction.SubmitToolOutputs.ToolCalls
	calls := make([]models.ToolCall, 0, len(requested))
	for _, tc := range requested {
		calls = append(calls, models.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Info("Client.serviceToolCalls: run paused for tool calls", "threadID", threadID, "runID", run.ID, "calls", len(calls))

	results := c.registry.Dispatch(ctx, calls)

	outputs := make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(results))
	for _, res := range results {
		outputs = append(outputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: param.NewOpt(res.ToolCallID),
			Output:     param.NewOpt(res.Output),
		})
	}
	if _, err := c.runs.SubmitToolOutputs(ctx, threadID, run.ID, openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: outputs,
	}); err != nil {
		return fmt.Errorf("failed to submit tool outputs: %w", err)
	}
	return nil
}

// latestAssistantText returns the newest assistant message on the thread,
// cleaned for delivery.
func (c *Client) latestAssistantText(ctx context.Context, threadID string) (string, error) {
	page, err := c.messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: param.NewOpt(int64(10)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list thread messages: %w", err)
	}

	for _, msg := range page.Data {
		if msg.Role != openai.MessageRoleAssistant {
			continue
		}
		for _, content := range msg.Content {
			if content.Type == "text" {
				return CleanReply(content.Text.Value), nil
			}
		}
	}
	return "", fmt.Errorf("run completed but no assistant message found")
}
