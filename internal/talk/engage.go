package talk

import (
	"github.com/h1v3-io/talktome/internal/workflow"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

// PlanFirstContact builds the opening message of tree's dialog for ticket.
func PlanFirstContact(ticket protocol.Ticket, tree *workflow.Tree) protocol.OutboundMessage {
	return stepMessage(tree.Label, tree.Root, ticket.ID, ticket.Vars())
}

// stepMessage renders step with one button per choice, each bound to ticketID.
func stepMessage(label string, step *workflow.Step, ticketID string, vars map[string]string) protocol.OutboundMessage {
	msg := protocol.OutboundMessage{
		Workflow: label,
		Text:     workflow.Render(step.Message, vars),
	}
	if step.Kind != workflow.KindChoices {
		return msg
	}
	msg.Buttons = make([]protocol.Button, 0, len(step.Choices))
	for _, c := range step.Choices {
		msg.Buttons = append(msg.Buttons, protocol.Button{
			Label:    c.Label,
			ActionID: c.ActionID,
			Value:    ticketID,
		})
	}
	return msg
}
