package talk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/h1v3-io/talktome/internal/workflow"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

// DefaultConcurrency bounds the number of tickets engaged in parallel.
const DefaultConcurrency = 4

// Config wires an Engine to one workflow and its collaborators.
type Config struct {
	Tree    *workflow.Tree
	Chat    ChatGateway
	Tickets TicketSource
	Updater TicketUpdater
	Matcher *Matcher

	// BotName is the author the chat gateway records on the bot's own
	// messages; LastBotMessage matches on it.
	BotName string
	// Search is the helpdesk query used when the tree defines none.
	Search string
	// HistoryWindow bounds the conversation lookback, DefaultHistoryWindow if zero.
	HistoryWindow time.Duration
	// Concurrency bounds per-sweep parallelism, DefaultConcurrency if zero.
	Concurrency int
	// Now is the clock, time.Now if nil.
	Now func() time.Time
}

// Engine runs one workflow: periodic sweeps over the helpdesk queue and the
// replies to button presses. It holds no per-conversation state; an Engine
// may serve concurrent sweeps and actions.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Workflow       string `json:"workflow"`
	Found          int    `json:"found"`
	Actionable     int    `json:"actionable"`
	Engaged        int    `json:"engaged"`
	AlreadyEngaged int    `json:"already_engaged"`
	Failed         int    `json:"failed"`
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Tree == nil || cfg.Tree.Root == nil {
		return nil, fmt.Errorf("talk: workflow tree is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("talk: chat gateway is required")
	}
	if cfg.Tickets == nil {
		return nil, fmt.Errorf("talk: ticket source is required")
	}
	if cfg.Updater == nil {
		return nil, fmt.Errorf("talk: ticket updater is required")
	}
	if cfg.BotName == "" {
		return nil, fmt.Errorf("talk: bot name is required")
	}
	if cfg.Matcher == nil {
		cfg.Matcher = &Matcher{}
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger.With("workflow", cfg.Tree.Label)}, nil
}

// Label returns the workflow label.
func (e *Engine) Label() string { return e.cfg.Tree.Label }

// Tree returns the workflow tree.
func (e *Engine) Tree() *workflow.Tree { return e.cfg.Tree }

// Schedule returns the workflow's own cron spec, if any.
func (e *Engine) Schedule() string { return e.cfg.Tree.Schedule }

// Query returns the helpdesk search the workflow sweeps with.
func (e *Engine) Query() string {
	if e.cfg.Tree.Search != "" {
		return e.cfg.Tree.Search
	}
	return e.cfg.Search
}

// Sweep runs one pass over the helpdesk queue and opens a dialog with every
// actionable ticket's user who has not heard from the bot within the history
// window. Only a failed search aborts the sweep.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Workflow: e.Label()}

	raw, err := e.cfg.Tickets.Search(ctx, e.Query())
	if err != nil {
		e.logger.Error("ticket search failed", "error", err)
		return report, fmt.Errorf("talk: search: %w", err)
	}
	report.Found = len(raw)
	e.logger.Debug("tickets found", "count", len(raw))

	tickets := e.cfg.Matcher.SelectActionable(ctx, raw, e.cfg.Tickets.Comments)
	report.Actionable = len(tickets)

	// Tickets of one user share a conversation; they run in order so that
	// a later ticket sees the greeting sent for an earlier one.
	byUser := make(map[string][]protocol.Ticket)
	for _, t := range tickets {
		key := strings.ToLower(t.Username)
		byUser[key] = append(byUser[key], t)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, group := range byUser {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		g.Go(func() error {
			for _, t := range group {
				engaged, err := e.engage(ctx, t)
				mu.Lock()
				switch {
				case err != nil:
					report.Failed++
					e.logger.Error("engage ticket", "ticket", t.ID, "user", t.Username, "error", err)
				case engaged:
					report.Engaged++
				default:
					report.AlreadyEngaged++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	e.logger.Info("sweep finished",
		"found", report.Found,
		"actionable", report.Actionable,
		"engaged", report.Engaged,
		"already_engaged", report.AlreadyEngaged,
		"failed", report.Failed,
	)
	return report, nil
}

// engage opens the dialog for one ticket. It reports false when the bot has
// already written to the user within the history window.
func (e *Engine) engage(ctx context.Context, t protocol.Ticket) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	channelID, err := e.cfg.Chat.OpenConversation(ctx, t.Username)
	if err != nil {
		return false, fmt.Errorf("open conversation: %w", err)
	}

	now := e.cfg.Now()
	var since time.Time
	if e.cfg.HistoryWindow > 0 {
		since = now.Add(-e.cfg.HistoryWindow)
	}
	history, err := e.cfg.Chat.FetchHistory(ctx, channelID, since)
	if err != nil {
		return false, fmt.Errorf("fetch history: %w", err)
	}

	if last, ok := LastBotMessage(history, e.cfg.BotName, e.cfg.HistoryWindow, now); ok {
		// TODO: nudge users who left the last question unanswered.
		e.logger.Debug("user already engaged", "ticket", t.ID, "channel", channelID, "last_message", last.Ref)
		return false, nil
	}

	msg := PlanFirstContact(t, e.cfg.Tree)
	ref, err := e.cfg.Chat.SendMessage(ctx, channelID, msg)
	if err != nil {
		return false, fmt.Errorf("send first message: %w", err)
	}
	e.logger.Info("ticket engaged", "ticket", t.ID, "user", t.Username, "channel", channelID, "message", ref)
	return true, nil
}

// HandleAction replies to a button press and forwards any ticket update.
// Unknown action identifiers are logged and dropped with a nil error.
// Chat and helpdesk failures are returned as-is, without retry.
func (e *Engine) HandleAction(ctx context.Context, action protocol.Action) (Response, error) {
	if err := action.Validate(); err != nil {
		return Response{}, fmt.Errorf("talk: %w", err)
	}

	resp, err := PlanResponse(action, e.cfg.Tree)
	if err != nil {
		if errors.Is(err, ErrUnknownAction) {
			e.logger.Warn("dropping action", "action_id", action.ActionID, "ticket", action.TicketRef, "error", err)
			return Response{}, nil
		}
		return Response{}, err
	}

	for i, eff := range resp.Effects {
		switch eff.Kind {
		case EffectStrip:
			err = e.cfg.Chat.UpdateMessage(ctx, eff.ChannelID, eff.MessageRef, eff.Message)
		case EffectSend:
			_, err = e.cfg.Chat.SendMessage(ctx, eff.ChannelID, eff.Message)
		}
		if err != nil {
			return resp, fmt.Errorf("talk: effect %d (%s): %w", i, eff.Kind, err)
		}
	}

	if resp.Update != nil {
		if err := e.cfg.Updater.UpdateTicket(ctx, *resp.Update); err != nil {
			return resp, fmt.Errorf("talk: update ticket %s: %w", resp.Update.TicketID, err)
		}
		e.logger.Info("ticket update requested", "ticket", resp.Update.TicketID, "action_id", action.ActionID)
	}
	return resp, nil
}
