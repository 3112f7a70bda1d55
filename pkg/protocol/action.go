package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedAction is returned when an inbound action lacks a required field.
var ErrMalformedAction = errors.New("malformed action")

// Action is a button press delivered by the chat platform.
type Action struct {
	ActionID   string `json:"action_id"`
	TicketRef  string `json:"value"`
	ChannelID  string `json:"channel_id"`
	MessageRef string `json:"message_ref"`

	// Workflow is the label of the workflow that rendered the button.
	Workflow string `json:"workflow,omitempty"`
	// Original is the message the button belonged to, as delivered.
	Original OutboundMessage `json:"original"`
	// DeliveryID identifies this delivery for idempotency guards.
	DeliveryID string `json:"delivery_id,omitempty"`
}

// Validate checks that the fields every action must carry are present.
func (a Action) Validate() error {
	var missing []string
	if a.ActionID == "" {
		missing = append(missing, "action_id")
	}
	if a.TicketRef == "" {
		missing = append(missing, "value")
	}
	if a.ChannelID == "" {
		missing = append(missing, "channel_id")
	}
	if a.MessageRef == "" {
		missing = append(missing, "message_ref")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedAction, strings.Join(missing, ", "))
	}
	return nil
}
