package talk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/h1v3-io/talktome/internal/workflow"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

const scenarioYAML = `
label: scenario
search: "status:open"
message: "Hi {ref}"
choices:
  "yes":
    message: "Great"
    update_ticket: {status: "solved"}
  "no":
    message: "Sorry"
    choices: {}
  more:
    label: "Tell me more"
    message: "Which part for ticket {ticket_id}?"
    choices:
      part_a:
        label: "A"
        message: "A it is"
      part_b:
        label: "B"
        message: "B it is"
        update_ticket: {priority: high}
`

func mustTree(doc string) *workflow.Tree {
	t, err := workflow.Parse([]byte(doc))
	if err != nil {
		panic(err)
	}
	return t
}

type sent struct {
	ChannelID string
	Msg       protocol.OutboundMessage
}

type updated struct {
	ChannelID  string
	MessageRef string
	Msg        protocol.OutboundMessage
}

// fakeChat records every call. Users map to channel "D-<user>".
type fakeChat struct {
	mu       sync.Mutex
	history  map[string][]protocol.Message
	sent     []sent
	updated  []updated
	openErr  map[string]error
	sendErr  error
	stripErr error
	since    []time.Time
	// echoAs, when set, makes sent messages show up in history under
	// this author.
	echoAs string
}

func newFakeChat() *fakeChat {
	return &fakeChat{history: make(map[string][]protocol.Message), openErr: make(map[string]error)}
}

func (f *fakeChat) OpenConversation(_ context.Context, username string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[username]; err != nil {
		return "", err
	}
	return "D-" + username, nil
}

func (f *fakeChat) FetchHistory(_ context.Context, channelID string, since time.Time) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	return f.history[channelID], nil
}

func (f *fakeChat) SendMessage(_ context.Context, channelID string, msg protocol.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sent{ChannelID: channelID, Msg: msg})
	ref := fmt.Sprintf("ts-%d", len(f.sent))
	if f.echoAs != "" {
		f.history[channelID] = append(f.history[channelID], protocol.Message{
			Ref: ref, Author: f.echoAs, Text: msg.Text, Timestamp: testNow,
		})
	}
	return ref, nil
}

func (f *fakeChat) UpdateMessage(_ context.Context, channelID, ref string, msg protocol.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stripErr != nil {
		return f.stripErr
	}
	f.updated = append(f.updated, updated{ChannelID: channelID, MessageRef: ref, Msg: msg})
	return nil
}

type fakeTickets struct {
	raw        []protocol.RawTicket
	comments   map[string][]protocol.Comment
	commentErr map[string]error
	searchErr  error
	lastQuery  string

	mu        sync.Mutex
	updates   []protocol.TicketUpdate
	updateErr error
}

func (f *fakeTickets) Search(_ context.Context, query string) ([]protocol.RawTicket, error) {
	f.lastQuery = query
	return f.raw, f.searchErr
}

func (f *fakeTickets) Comments(_ context.Context, id string) ([]protocol.Comment, error) {
	if err := f.commentErr[id]; err != nil {
		return nil, err
	}
	return f.comments[id], nil
}

func (f *fakeTickets) UpdateTicket(_ context.Context, u protocol.TicketUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, u)
	return nil
}

func comments(authors ...string) []protocol.Comment {
	cs := make([]protocol.Comment, len(authors))
	for i, a := range authors {
		cs[i] = protocol.Comment{ID: fmt.Sprint(i), Author: a}
	}
	return cs
}
