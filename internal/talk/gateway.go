// Package talk decides what to say to whom: which tickets to engage, the
// first message of a dialog, and the reply to each button press.
//
// The planners in this package are pure functions over a workflow tree.
// Engine wires them to the chat and helpdesk collaborators below.
package talk

import (
	"context"
	"time"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// ChatGateway is the chat platform as seen by the engine.
type ChatGateway interface {
	// OpenConversation returns the 1:1 channel with the helpdesk user.
	OpenConversation(ctx context.Context, username string) (string, error)
	// FetchHistory returns the channel's messages posted at or after since.
	FetchHistory(ctx context.Context, channelID string, since time.Time) ([]protocol.Message, error)
	// SendMessage posts msg and returns its platform reference.
	SendMessage(ctx context.Context, channelID string, msg protocol.OutboundMessage) (string, error)
	// UpdateMessage replaces the content of an existing message.
	UpdateMessage(ctx context.Context, channelID, messageRef string, msg protocol.OutboundMessage) error
}

// TicketSource is the helpdesk queue.
type TicketSource interface {
	Search(ctx context.Context, query string) ([]protocol.RawTicket, error)
	Comments(ctx context.Context, ticketID string) ([]protocol.Comment, error)
}

// TicketUpdater applies ticket updates requested by workflows.
type TicketUpdater interface {
	UpdateTicket(ctx context.Context, update protocol.TicketUpdate) error
}
