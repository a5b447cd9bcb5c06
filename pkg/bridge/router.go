package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// Router runs one consumer per bound session, draining the session's event
// queue and invoking bridge verbs. Subscribing registers the store queue
// synchronously before the consumer starts, so no event emitted after
// Subscribe returns can be missed.
type Router struct {
	store   *store.Store
	manager *Manager
	logger  *slog.Logger

	mu        sync.Mutex
	consumers map[string]*consumer
}

type consumer struct {
	cancel context.CancelFunc
	done   chan struct{}
	sub    *store.Subscriber
	bridge Bridge
}

// NewRouter creates a Router.
func NewRouter(st *store.Store, manager *Manager) *Router {
	return &Router{
		store:     st,
		manager:   manager,
		logger:    slog.Default().With("component", "bridge-router"),
		consumers: make(map[string]*consumer),
	}
}

// Subscribe binds a session to a platform bridge and starts its consumer.
// A session already subscribed is left alone.
func (r *Router) Subscribe(sessionID, platform string) error {
	bridge, err := r.manager.Get(platform)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.consumers[sessionID]; exists {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &consumer{
		cancel: cancel,
		done:   make(chan struct{}),
		sub:    r.store.Subscribe(sessionID),
		bridge: bridge,
	}
	r.consumers[sessionID] = c
	r.mu.Unlock()

	go r.consume(ctx, sessionID, c)
	r.logger.Info("Bridge subscription started", "session_id", sessionID, "platform", platform)
	return nil
}

// Unsubscribe stops a session's consumer, drops its queue, and notifies the
// bridge that the session is gone.
func (r *Router) Unsubscribe(sessionID string) {
	r.mu.Lock()
	c, ok := r.consumers[sessionID]
	if ok {
		delete(r.consumers, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	c.cancel()
	<-c.done
	r.store.Unsubscribe(sessionID, c.sub)
	if err := c.bridge.OnSessionRemoved(context.Background(), sessionID); err != nil {
		r.logger.Warn("Bridge session-removed notification failed",
			"session_id", sessionID, "error", err)
	}
	r.logger.Info("Bridge subscription stopped", "session_id", sessionID)
}

// Shutdown stops every consumer.
func (r *Router) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.consumers))
	for id := range r.consumers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Unsubscribe(id)
	}
}

func (r *Router) consume(ctx context.Context, sessionID string, c *consumer) {
	defer close(c.done)
	for {
		ev, err := c.sub.Next(ctx)
		if err != nil {
			return
		}
		r.route(ctx, sessionID, c.bridge, ev)
	}
}

// route maps one event onto bridge verbs. History replays, intermediate
// steps, and turn blobs are filtered out here so bridges only see
// user-relevant traffic.
func (r *Router) route(ctx context.Context, sessionID string, b Bridge, ev *models.Event) {
	var err error
	switch ev.Type {
	case events.TypeOutput:
		var p events.OutputPayload
		if jsonErr := json.Unmarshal(ev.Data, &p); jsonErr != nil {
			r.logger.Warn("Malformed output payload", "session_id", sessionID, "error", jsonErr)
			return
		}
		if p.IsHistory || !p.Final {
			return
		}
		err = b.OnOutput(ctx, sessionID, p.Text)

	case events.TypeOutputFinal:
		return

	case events.TypePermissionRequest:
		var p events.PermissionRequestPayload
		if jsonErr := json.Unmarshal(ev.Data, &p); jsonErr != nil {
			r.logger.Warn("Malformed permission_request payload", "session_id", sessionID, "error", jsonErr)
			return
		}
		err = b.OnApprovalRequest(ctx, sessionID, buildApprovalRequest(p))

	case events.TypeSessionState:
		var p events.SessionStatePayload
		if jsonErr := json.Unmarshal(ev.Data, &p); jsonErr != nil {
			r.logger.Warn("Malformed session_state payload", "session_id", sessionID, "error", jsonErr)
			return
		}
		switch p.State {
		case models.StateRunning:
			err = b.OnTyping(ctx, sessionID)
		case models.StateAwaitingInput:
			err = b.OnTypingStopped(ctx, sessionID)
		case models.StateError:
			if typingErr := b.OnTypingStopped(ctx, sessionID); typingErr != nil {
				r.logger.Warn("Bridge typing-stopped failed", "session_id", sessionID, "error", typingErr)
			}
			err = b.OnStatusChange(ctx, sessionID, "error", nil)
		}

	case events.TypeError:
		var p events.ErrorPayload
		if jsonErr := json.Unmarshal(ev.Data, &p); jsonErr != nil {
			r.logger.Warn("Malformed error payload", "session_id", sessionID, "error", jsonErr)
			return
		}
		err = b.OnStatusChange(ctx, sessionID, "error", map[string]string{"message": p.Message})
	}

	if err != nil {
		r.logger.Warn("Bridge delivery failed",
			"session_id", sessionID, "event_type", ev.Type, "seq", ev.Seq, "error", err)
	}
}

// askUserQuestion is the structured choice schema some runners attach to
// AskUserQuestion permission requests.
type askUserQuestion struct {
	Questions []struct {
		Header   string `json:"header"`
		Question string `json:"question"`
		Options  []struct {
			Label       string `json:"label"`
			Description string `json:"description"`
		} `json:"options"`
	} `json:"questions"`
}

func buildApprovalRequest(p events.PermissionRequestPayload) ApprovalRequest {
	if strings.HasPrefix(p.ToolName, "AskUserQuestion") {
		var q askUserQuestion
		if err := json.Unmarshal(p.ToolInput, &q); err == nil &&
			len(q.Questions) > 0 && len(q.Questions[0].Options) > 0 {
			question := q.Questions[0]
			var desc strings.Builder
			desc.WriteString(question.Question)
			labels := make([]string, 0, len(question.Options))
			for i, opt := range question.Options {
				fmt.Fprintf(&desc, "\n%d. %s", i+1, opt.Label)
				if opt.Description != "" {
					fmt.Fprintf(&desc, " - %s", opt.Description)
				}
				labels = append(labels, opt.Label)
			}
			return ApprovalRequest{
				Kind:        KindChoice,
				RequestID:   p.RequestID,
				Title:       question.Header,
				Description: desc.String(),
				Options:     labels,
			}
		}
	}

	return ApprovalRequest{
		Kind:        KindPermission,
		RequestID:   p.RequestID,
		Title:       p.ToolName,
		Description: string(p.ToolInput),
		Options:     []string{"Allow", "Deny"},
	}
}
