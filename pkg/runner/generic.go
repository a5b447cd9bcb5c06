package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/store"
	"github.com/tether-ai/tether-agent/pkg/tools"
)

const (
	heartbeatInterval = 5 * time.Second
	stopGrace         = 5 * time.Second
	maxToolIterations = 200
	toolEchoLimit     = 500
)

// Generic is the backend-agnostic runner: it owns the conversation task,
// iteration over tool calls, heartbeats, and stop semantics, delegating
// model calls and conversation encoding to a Backend.
type Generic struct {
	store   *store.Store
	cb      Callbacks
	backend Backend
	tools   *tools.Executor
	logger  *slog.Logger
}

// NewGeneric creates a Generic runner.
func NewGeneric(st *store.Store, cb Callbacks, backend Backend, executor *tools.Executor) *Generic {
	return &Generic{
		store:   st,
		cb:      cb,
		backend: backend,
		tools:   executor,
		logger:  slog.Default().With("component", "runner"),
	}
}

var _ Runner = (*Generic)(nil)

// Available reports whether the backend can serve calls.
func (r *Generic) Available() error {
	return r.backend.Available()
}

// Start queues the prompt plus any buffered input and launches the task.
func (r *Generic) Start(ctx context.Context, sessionID, prompt string) error {
	if err := r.backend.Available(); err != nil {
		return err
	}

	if strings.TrimSpace(prompt) != "" {
		_, err := r.store.AppendMessage(ctx, sessionID, models.RoleUser,
			[]models.ContentBlock{models.TextBlock(prompt)})
		if err != nil {
			return err
		}
	}
	if err := r.flushPendingInput(ctx, sessionID); err != nil {
		return err
	}

	r.spawn(sessionID, true)
	return nil
}

// SendInput appends user input. Pending permission requests for the session
// are considered answered. If no task is live the task is relaunched.
func (r *Generic) SendInput(ctx context.Context, sessionID, text string) error {
	if err := r.backend.Available(); err != nil {
		return err
	}

	r.store.ClearPendingPermissions(sessionID)

	if strings.TrimSpace(text) != "" {
		_, err := r.store.AppendMessage(ctx, sessionID, models.RoleUser,
			[]models.ContentBlock{models.TextBlock(text)})
		if err != nil {
			return err
		}
	}
	if err := r.flushPendingInput(ctx, sessionID); err != nil {
		return err
	}

	if r.store.TaskFor(sessionID) == nil {
		r.spawn(sessionID, false)
	}
	return nil
}

// Stop requests the live task to halt and waits for it within the grace
// period. Safe to call when no task is live.
func (r *Generic) Stop(ctx context.Context, sessionID string) error {
	r.store.SetStopFlag(sessionID)
	defer r.store.ClearStopFlag(sessionID)

	task := r.store.TaskFor(sessionID)
	if task == nil {
		return nil
	}
	task.Cancel()

	select {
	case <-task.Done:
	case <-time.After(stopGrace):
		r.logger.Warn("Task did not stop within grace period", "session_id", sessionID)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Generic) flushPendingInput(ctx context.Context, sessionID string) error {
	for _, text := range r.store.DrainPendingInput(sessionID) {
		if strings.TrimSpace(text) == "" {
			continue
		}
		_, err := r.store.AppendMessage(ctx, sessionID, models.RoleUser,
			[]models.ContentBlock{models.TextBlock(text)})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Generic) spawn(sessionID string, emitHeader bool) {
	taskCtx, cancel := context.WithCancel(context.Background())
	task := &store.Task{Cancel: cancel, Done: make(chan struct{})}
	r.store.SetTask(sessionID, task)
	go r.run(taskCtx, sessionID, task, emitHeader)
}

// run is the conversation task. It loops over model calls and tool
// dispatch until the turn ends, a stop is requested, or an error occurs,
// then reports the outcome through the callbacks exactly once.
func (r *Generic) run(ctx context.Context, sessionID string, task *store.Task, emitHeader bool) {
	start := time.Now()
	bg := context.Background()

	hbCtx, hbCancel := context.WithCancel(bg)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeat(hbCtx, sessionID, start)
	}()

	defer func() {
		hbCancel()
		<-hbDone
		r.cb.OnHeartbeat(bg, sessionID, time.Since(start).Seconds(), true)

		stopRequested := r.store.StopRequested(sessionID)
		// The task handle must be gone before the terminal callback commits
		// AWAITING_INPUT: input landing right after the commit has to see no
		// live task so SendInput relaunches instead of leaving the session
		// RUNNING with nothing behind it.
		r.store.ClearTask(sessionID, task)
		close(task.Done)

		if stopRequested {
			code := 0
			r.cb.OnExit(bg, sessionID, &code)
		} else {
			r.cb.OnAwaitingInput(bg, sessionID)
		}
	}()

	if emitHeader {
		info := r.backend.Info()
		r.cb.OnHeader(bg, sessionID, headerFor(info), "")
	}

	for iteration := 0; ; iteration++ {
		if iteration >= maxToolIterations {
			r.cb.OnError(bg, sessionID, "RUNNER_LOOP", "tool iteration limit exceeded")
			return
		}
		if ctx.Err() != nil || r.store.StopRequested(sessionID) {
			return
		}

		sess, err := r.store.GetSession(ctx, sessionID)
		if err != nil || sess.State != models.StateRunning {
			return
		}
		msgs, err := r.store.GetMessages(ctx, sessionID)
		if err != nil {
			r.cb.OnError(bg, sessionID, "STORE_ERROR", err.Error())
			return
		}
		if len(msgs) == 0 {
			return
		}

		resp, err := r.backend.CallAPI(ctx, sessionID, msgs)
		if err != nil {
			r.cb.OnError(bg, sessionID, "RUNNER_ERROR", err.Error())
			return
		}
		if resp == nil {
			return
		}

		r.cb.OnMetadata(bg, sessionID, tokenMetadata(resp.Usage))

		if err := r.backend.SaveAssistantResponse(ctx, sessionID, resp.Content); err != nil {
			r.cb.OnError(bg, sessionID, "STORE_ERROR", err.Error())
			return
		}

		uses := r.backend.ExtractToolUses(resp.Content)
		if len(uses) > 0 {
			results := make([]ToolResult, len(uses))
			for i, use := range uses {
				if r.store.StopRequested(sessionID) {
					return
				}
				r.cb.OnOutput(bg, sessionID,
					fmt.Sprintf("[tool: %s] %s", use.Name, string(use.Input)),
					events.KindStep, false)

				res := r.tools.Execute(ctx, sessionID, use.Name, use.Input)
				text := res.Output
				if !res.Success {
					text = "Error: " + res.Error
				}
				r.cb.OnOutput(bg, sessionID, "[result] "+truncate(text, toolEchoLimit),
					events.KindStep, false)
				results[i] = ToolResult{Output: text, IsError: !res.Success}
			}
			if err := r.backend.AddToolResults(ctx, sessionID, uses, results); err != nil {
				r.cb.OnError(bg, sessionID, "STORE_ERROR", err.Error())
				return
			}
			continue
		}

		switch resp.StopReason {
		case "end_turn":
			if text := finalText(resp.Content); text != "" {
				r.cb.OnOutputFinal(bg, sessionID, text)
			}
			return
		case "max_tokens":
			r.cb.OnOutput(bg, sessionID, "[max tokens reached]", events.KindFinal, true)
			return
		default:
			return
		}
	}
}

func (r *Generic) heartbeat(ctx context.Context, sessionID string, start time.Time) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cb.OnHeartbeat(context.Background(), sessionID, time.Since(start).Seconds(), false)
		}
	}
}

func headerFor(info Info) events.HeaderPayload {
	return events.HeaderPayload{
		Title:    info.Title,
		Model:    info.Model,
		Provider: info.Provider,
	}
}

func tokenMetadata(u Usage) events.MetadataPayload {
	return events.MetadataPayload{
		Key:   "tokens",
		Value: u,
		Raw:   fmt.Sprintf("in=%d out=%d", u.InputTokens, u.OutputTokens),
	}
}

func finalText(content []models.ContentBlock) string {
	var parts []string
	for _, b := range content {
		if b.Type == models.BlockText && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
