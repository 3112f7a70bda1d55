package slackconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/h1v3-io/talktome/internal/connector"
)

// Listener receives interactive events over Socket Mode, for deployments
// without a public interactivity URL.
type Listener struct {
	socket  *socketmode.Client
	handler connector.ActionHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// NewListener creates a Socket Mode listener on the gateway's client. The
// client must have been created with an app-level token.
func NewListener(g *Gateway, handler connector.ActionHandler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		socket:  socketmode.New(g.Client()),
		handler: handler,
		logger:  logger,
	}
}

func (l *Listener) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)

	go l.handleEvents(ctx)

	l.logger.Info("slack listener started (socket mode)")
	return l.socket.RunContext(ctx)
}

// Stop gracefully shuts down the listener.
func (l *Listener) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}

func (l *Listener) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-l.socket.Events:
			switch event.Type {
			case socketmode.EventTypeInteractive:
				l.handleInteractive(ctx, event)
			case socketmode.EventTypeConnected:
				l.logger.Info("slack socket connected")
			case socketmode.EventTypeConnectionError:
				l.logger.Warn("slack socket connection error")
			}
		}
	}
}

func (l *Listener) handleInteractive(ctx context.Context, event socketmode.Event) {
	cb, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	// Slack expects the ack within 3 seconds, before any reply is posted.
	if event.Request != nil {
		l.socket.Ack(*event.Request)
	}

	if err := l.dispatch(ctx, cb); err != nil {
		l.logger.Error("slack interaction error", "type", cb.Type, "user", cb.User.ID, "error", err)
	}
}

func (l *Listener) dispatch(ctx context.Context, cb slack.InteractionCallback) error {
	action, err := ParseAction(cb)
	if errors.Is(err, ErrUnsupportedInteraction) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := l.handler(ctx, action); err != nil {
		return fmt.Errorf("action %s: %w", action.ActionID, err)
	}
	return nil
}
