package talk

import (
	"fmt"

	"github.com/h1v3-io/talktome/internal/workflow"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

// EffectKind distinguishes chat side effects.
type EffectKind int

const (
	// EffectStrip replaces the clicked message with its non-interactive remainder.
	EffectStrip EffectKind = iota
	// EffectSend posts a new message.
	EffectSend
)

func (k EffectKind) String() string {
	if k == EffectSend {
		return "send"
	}
	return "strip"
}

// Effect is one chat operation produced by PlanResponse.
type Effect struct {
	Kind       EffectKind
	ChannelID  string
	MessageRef string // set for EffectStrip
	Message    protocol.OutboundMessage
}

// Response is the outcome of a button press. Effects run in order.
// Update, when set, is for the caller to forward to the helpdesk.
type Response struct {
	Effects []Effect
	Update  *protocol.TicketUpdate
}

// Empty reports whether the response has nothing to do.
func (r Response) Empty() bool {
	return len(r.Effects) == 0 && r.Update == nil
}

// PlanResponse decides the reply to action. The current dialog position is
// re-derived from the tree on every call; nothing else is consulted.
func PlanResponse(action protocol.Action, tree *workflow.Tree) (Response, error) {
	step, ok := tree.Resolve(action.ActionID)
	if !ok {
		return Response{}, fmt.Errorf("talk: %w %q in workflow %q", ErrUnknownAction, action.ActionID, tree.Label)
	}

	strip := Effect{
		Kind:       EffectStrip,
		ChannelID:  action.ChannelID,
		MessageRef: action.MessageRef,
		Message:    action.Original.WithoutButtons(),
	}
	if strip.Message.Workflow == "" {
		strip.Message.Workflow = tree.Label
	}
	resp := Response{Effects: []Effect{strip}}

	vars := map[string]string{"ticket_id": action.TicketRef}
	switch step.Kind {
	case workflow.KindChoices:
		resp.Effects = append(resp.Effects, Effect{
			Kind:      EffectSend,
			ChannelID: action.ChannelID,
			Message:   stepMessage(tree.Label, step, action.TicketRef, vars),
		})
	case workflow.KindUpdate:
		resp.Effects = append(resp.Effects, Effect{
			Kind:      EffectSend,
			ChannelID: action.ChannelID,
			Message: protocol.OutboundMessage{
				Workflow: tree.Label,
				Text:     workflow.Render(step.Message, vars),
			},
		})
		resp.Update = &protocol.TicketUpdate{
			TicketID: action.TicketRef,
			Payload:  step.Update,
		}
	}
	return resp, nil
}
