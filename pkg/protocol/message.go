package protocol

import "time"

// Message is one entry of a conversation's history.
type Message struct {
	Ref       string    `json:"ref"` // platform message reference (Slack ts)
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Button is an interactive choice attached to an outbound message.
// ActionID routes the click back to a workflow step, Value carries the ticket ID.
type Button struct {
	Label    string `json:"label"`
	ActionID string `json:"action_id"`
	Value    string `json:"value"`
}

// OutboundMessage is a platform-neutral chat message.
type OutboundMessage struct {
	Workflow string   `json:"workflow,omitempty"` // label used to route button clicks
	Text     string   `json:"text"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Interactive reports whether the message carries buttons.
func (m OutboundMessage) Interactive() bool {
	return len(m.Buttons) > 0
}

// WithoutButtons returns a copy of m with its interactive elements removed.
func (m OutboundMessage) WithoutButtons() OutboundMessage {
	return OutboundMessage{Workflow: m.Workflow, Text: m.Text}
}
