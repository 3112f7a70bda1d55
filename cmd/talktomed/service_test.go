package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/h1v3-io/talktome/internal/config"
	"github.com/h1v3-io/talktome/internal/ticket"
	"github.com/h1v3-io/talktome/internal/workflow"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

const remediationYAML = `
label: remediation
search: "status:open tags:remediation"
message: "Hi {username}, is device {barcode} working again?"
choices:
  fixed:
    label: "Yes, fixed"
    message: "Great, closing ticket {ticket_id}."
    update_ticket:
      status: solved
      comment: "User confirmed the fix in chat"
  broken:
    label: "Still broken"
    message: "Sorry to hear that, an engineer will reach out."
`

// chatStub records sent and updated messages.
type chatStub struct {
	mu      sync.Mutex
	sent    []protocol.OutboundMessage
	updated []protocol.OutboundMessage
}

func (c *chatStub) OpenConversation(_ context.Context, username string) (string, error) {
	return "D-" + username, nil
}

func (c *chatStub) FetchHistory(context.Context, string, time.Time) ([]protocol.Message, error) {
	return nil, nil
}

func (c *chatStub) SendMessage(_ context.Context, _ string, msg protocol.OutboundMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return "1700000000.000100", nil
}

func (c *chatStub) UpdateMessage(_ context.Context, _, _ string, msg protocol.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated = append(c.updated, msg)
	return nil
}

func newTestDispatcher(t *testing.T) (*workflowService, *chatStub, *ticket.SQLiteStore) {
	t.Helper()
	tree, err := workflow.Parse([]byte(remediationYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	store, err := ticket.NewSQLiteStore(filepath.Join(t.TempDir(), "desk.db"), config.DefaultBotAuthor, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Bot:      config.BotConfig{Name: config.DefaultBotName, HistoryWindow: time.Hour},
		Helpdesk: config.HelpdeskConfig{BotAuthor: config.DefaultBotAuthor},
	}
	reg, err := workflow.NewRegistry(tree)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	chat := &chatStub{}
	disp, err := buildDispatcher(cfg, reg, chat, store, nil)
	if err != nil {
		t.Fatalf("buildDispatcher: %v", err)
	}
	return &workflowService{disp: disp}, chat, store
}

func TestWorkflows(t *testing.T) {
	svc, _, _ := newTestDispatcher(t)

	wfs := svc.Workflows()
	if len(wfs) != 1 {
		t.Fatalf("workflows = %d", len(wfs))
	}
	wf := wfs[0]
	if wf.Label != "remediation" || wf.Search != "status:open tags:remediation" {
		t.Errorf("workflow = %+v", wf)
	}
	if len(wf.Actions) != 2 || wf.NextSweep != nil {
		t.Errorf("actions = %v, next = %v", wf.Actions, wf.NextSweep)
	}
}

func TestSweepAndAction(t *testing.T) {
	svc, chat, store := newTestDispatcher(t)
	ctx := context.Background()

	store.Save(ctx, protocol.RawTicket{
		ID:          "42",
		Description: "Laptop barcode 98765 assigned_to alice",
		Status:      protocol.TicketOpen,
		Tags:        []string{"remediation"},
	})
	store.Save(ctx, protocol.RawTicket{
		ID:          "43",
		Description: "no user here",
		Status:      protocol.TicketOpen,
		Tags:        []string{"remediation"},
	})

	report, err := svc.Sweep(ctx, "remediation")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Found != 2 || report.Actionable != 1 || report.Engaged != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(chat.sent) != 1 {
		t.Fatalf("sent = %d", len(chat.sent))
	}
	first := chat.sent[0]
	if first.Text != "Hi alice, is device 98765 working again?" || len(first.Buttons) != 2 {
		t.Errorf("first message = %+v", first)
	}

	handle := actionHandler(svc.disp, nil)
	err = handle(ctx, protocol.Action{
		ActionID:   "fixed",
		TicketRef:  "42",
		ChannelID:  "D-alice",
		MessageRef: "1700000000.000100",
		Workflow:   "remediation",
		Original:   first,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(chat.updated) != 1 || chat.updated[0].Interactive() {
		t.Errorf("updated = %+v", chat.updated)
	}
	if len(chat.sent) != 2 || chat.sent[1].Text != "Great, closing ticket 42." {
		t.Errorf("sent = %+v", chat.sent)
	}

	rec, err := store.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != protocol.TicketSolved {
		t.Errorf("status = %q", rec.Status)
	}
	cs, _ := store.Comments(ctx, "42")
	if len(cs) != 1 || cs[0].Author != config.DefaultBotAuthor {
		t.Errorf("comments = %+v", cs)
	}
}

func TestActionHandler_UnknownWorkflowDropped(t *testing.T) {
	svc, chat, _ := newTestDispatcher(t)

	err := actionHandler(svc.disp, nil)(context.Background(), protocol.Action{
		ActionID:   "fixed",
		TicketRef:  "42",
		ChannelID:  "D-alice",
		MessageRef: "1.0",
		Workflow:   "retired-workflow",
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if len(chat.sent)+len(chat.updated) != 0 {
		t.Error("no chat calls expected")
	}
}

func TestApiHandler_Nil(t *testing.T) {
	if apiHandler(nil) != nil {
		t.Error("nil webhook handler should map to a nil http.Handler")
	}
}
