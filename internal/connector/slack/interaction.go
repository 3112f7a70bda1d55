package slackconn

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// ErrUnsupportedInteraction is returned for interactions other than block actions.
var ErrUnsupportedInteraction = errors.New("slack: unsupported interaction")

// ParsePayload decodes the JSON "payload" field of an interactivity request.
func ParsePayload(raw string) (slack.InteractionCallback, error) {
	var cb slack.InteractionCallback
	if raw == "" {
		return cb, fmt.Errorf("slack: %w: empty payload", protocol.ErrMalformedAction)
	}
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		return cb, fmt.Errorf("slack: %w: %v", protocol.ErrMalformedAction, err)
	}
	return cb, nil
}

// ParseAction turns a block_actions interaction into an Action. Only the
// first action of the payload is used.
func ParseAction(cb slack.InteractionCallback) (protocol.Action, error) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return protocol.Action{}, fmt.Errorf("%w: %q", ErrUnsupportedInteraction, cb.Type)
	}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return protocol.Action{}, fmt.Errorf("slack: %w: no actions", protocol.ErrMalformedAction)
	}
	ba := cb.ActionCallback.BlockActions[0]

	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	messageRef := cb.Message.Timestamp
	if messageRef == "" {
		messageRef = cb.Container.MessageTs
	}

	action := protocol.Action{
		ActionID:   ba.ActionID,
		TicketRef:  ba.Value,
		ChannelID:  channelID,
		MessageRef: messageRef,
		Workflow:   ba.BlockID,
		Original:   MessageFromBlocks(cb.Message.Blocks, cb.Message.Text),
		DeliveryID: fmt.Sprintf("%s:%s:%s", channelID, messageRef, ba.ActionTs),
	}
	if err := action.Validate(); err != nil {
		return action, fmt.Errorf("slack: %w", err)
	}
	return action, nil
}
