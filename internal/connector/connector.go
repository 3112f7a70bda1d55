package connector

import (
	"context"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// Listener is a long-running ingress for chat platform events (e.g. Slack Socket Mode).
type Listener interface {
	// Name returns the listener type (e.g., "slack").
	Name() string
	// Start begins receiving events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the listener.
	Stop() error
}

// ActionHandler processes a button press received from a chat platform.
// Implementations route it to the workflow engine.
type ActionHandler func(ctx context.Context, action protocol.Action) error
