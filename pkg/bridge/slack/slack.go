// Package slack implements the Slack chat bridge: session output and
// approval prompts are posted as threaded Block Kit messages in one
// configured channel.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/tether-ai/tether-agent/pkg/bridge"
)

const (
	postTimeout        = 10 * time.Second
	maxBlockTextLength = 2900
)

// Bridge posts session traffic to a Slack channel, one thread per session.
// Delivery is fail-open: errors are logged and returned to the router,
// which only logs them as well.
type Bridge struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger

	mu      sync.Mutex
	threads map[string]string // session id -> thread ts
}

// New creates the bridge. Returns nil when token or channel is empty, which
// disables Slack entirely; callers must treat a nil *Bridge as absent.
func New(token, channelID string) *Bridge {
	if token == "" || channelID == "" {
		return nil
	}
	return newWithClient(goslack.New(token), channelID)
}

// NewWithAPIURL targets a custom API URL, for tests against a mock server.
func NewWithAPIURL(token, channelID, apiURL string) *Bridge {
	return newWithClient(goslack.New(token, goslack.OptionAPIURL(apiURL)), channelID)
}

func newWithClient(api *goslack.Client, channelID string) *Bridge {
	return &Bridge{
		api:       api,
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-bridge"),
		threads:   make(map[string]string),
	}
}

var _ bridge.Bridge = (*Bridge)(nil)

// Platform returns the platform name.
func (b *Bridge) Platform() string {
	return "slack"
}

// BindThread restores a session -> thread mapping, used when resubscribing
// persisted sessions after a restart.
func (b *Bridge) BindThread(sessionID, threadTS string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads[sessionID] = threadTS
}

func (b *Bridge) threadFor(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threads[sessionID]
}

// CreateThread posts the session's root message and returns its timestamp
// as the thread id.
func (b *Bridge) CreateThread(ctx context.Context, sessionID, sessionName string) (*bridge.Thread, error) {
	title := sessionName
	if title == "" {
		title = sessionID
	}
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf(":robot_face: *%s*", truncateForSlack(title)), false, false),
			nil, nil,
		),
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	_, ts, err := b.api.PostMessageContext(ctx, b.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return nil, fmt.Errorf("chat.postMessage failed: %w", err)
	}

	b.BindThread(sessionID, ts)
	return &bridge.Thread{ThreadID: ts, Platform: b.Platform()}, nil
}

// OnOutput posts final agent output into the session thread.
func (b *Bridge) OnOutput(ctx context.Context, sessionID, text string) error {
	if text == "" {
		return nil
	}
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(text), false, false),
			nil, nil,
		),
	}
	return b.post(ctx, sessionID, blocks)
}

// OnApprovalRequest renders the request title, description, and numbered
// options.
func (b *Bridge) OnApprovalRequest(ctx context.Context, sessionID string, req bridge.ApprovalRequest) error {
	header := fmt.Sprintf(":question: *%s*", req.Title)
	if req.Kind == bridge.KindPermission {
		header = fmt.Sprintf(":lock: *Permission requested: %s*", req.Title)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}
	if req.Description != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(req.Description), false, false),
			nil, nil,
		))
	}
	blocks = append(blocks, goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType,
			"Reply in the session to answer.", false, false)))

	return b.post(ctx, sessionID, blocks)
}

// OnStatusChange announces error states in the thread.
func (b *Bridge) OnStatusChange(ctx context.Context, sessionID, status string, detail map[string]string) error {
	text := fmt.Sprintf(":x: *Session %s*", status)
	if msg := detail["message"]; msg != "" {
		text += "\n" + truncateForSlack(msg)
	}
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	return b.post(ctx, sessionID, blocks)
}

// OnTyping is a no-op: the Slack bot API has no typing indicator.
func (b *Bridge) OnTyping(_ context.Context, sessionID string) error {
	b.logger.Debug("Typing started", "session_id", sessionID)
	return nil
}

// OnTypingStopped is a no-op, matching OnTyping.
func (b *Bridge) OnTypingStopped(_ context.Context, sessionID string) error {
	b.logger.Debug("Typing stopped", "session_id", sessionID)
	return nil
}

// OnSessionRemoved drops the thread mapping.
func (b *Bridge) OnSessionRemoved(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.threads, sessionID)
	return nil
}

func (b *Bridge) post(ctx context.Context, sessionID string, blocks []goslack.Block) error {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	opts := []goslack.MsgOption{goslack.MsgOptionBlocks(blocks...)}
	if ts := b.threadFor(sessionID); ts != "" {
		opts = append(opts, goslack.MsgOptionTS(ts))
	}
	_, _, err := b.api.PostMessageContext(ctx, b.channelID, opts...)
	if err != nil {
		b.logger.Error("Slack delivery failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
