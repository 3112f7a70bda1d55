package slackconn

import (
	"github.com/slack-go/slack"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// Blocks renders msg as a section block followed, when the message has
// buttons, by an actions block. The actions block ID is the workflow label
// so that clicks can be routed back to the right workflow.
func Blocks(msg protocol.OutboundMessage) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, msg.Text, false, false), nil, nil),
	}
	if !msg.Interactive() {
		return blocks
	}
	elements := make([]slack.BlockElement, 0, len(msg.Buttons))
	for _, b := range msg.Buttons {
		elements = append(elements, slack.NewButtonBlockElement(
			b.ActionID,
			b.Value,
			slack.NewTextBlockObject(slack.PlainTextType, b.Label, false, false),
		))
	}
	return append(blocks, slack.NewActionBlock(msg.Workflow, elements...))
}

// MessageFromBlocks recovers the platform-neutral form of a delivered message.
func MessageFromBlocks(blocks slack.Blocks, fallbackText string) protocol.OutboundMessage {
	var msg protocol.OutboundMessage
	for _, b := range blocks.BlockSet {
		switch blk := b.(type) {
		case *slack.SectionBlock:
			if blk.Text != nil && msg.Text == "" {
				msg.Text = blk.Text.Text
			}
		case *slack.ActionBlock:
			msg.Workflow = blk.BlockID
			if blk.Elements == nil {
				continue
			}
			for _, el := range blk.Elements.ElementSet {
				btn, ok := el.(*slack.ButtonBlockElement)
				if !ok {
					continue
				}
				label := ""
				if btn.Text != nil {
					label = btn.Text.Text
				}
				msg.Buttons = append(msg.Buttons, protocol.Button{
					Label:    label,
					ActionID: btn.ActionID,
					Value:    btn.Value,
				})
			}
		}
	}
	if msg.Text == "" {
		msg.Text = fallbackText
	}
	return msg
}
