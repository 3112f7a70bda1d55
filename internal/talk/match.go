package talk

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

var (
	referencePattern = regexp.MustCompile(`barcode\s+(\d+)`)
	usernamePattern  = regexp.MustCompile(`assigned_to\s+(\w+)`)
)

// DefaultOpenStatuses are the helpdesk statuses a ticket may have to be engaged.
var DefaultOpenStatuses = []protocol.TicketStatus{protocol.TicketNew, protocol.TicketOpen}

// CommentFetcher loads the comments of one ticket.
type CommentFetcher func(ctx context.Context, ticketID string) ([]protocol.Comment, error)

// Matcher filters raw helpdesk tickets down to the ones the bot should engage.
type Matcher struct {
	// BotAuthor is the comment author the helpdesk records for the bot.
	BotAuthor string
	// OpenStatuses defaults to DefaultOpenStatuses.
	OpenStatuses []protocol.TicketStatus
	Logger       *slog.Logger
}

// ParseDescription extracts the assigned user and the reference code from a
// ticket description.
func ParseDescription(description string) (username, reference string, ok bool) {
	u := usernamePattern.FindStringSubmatch(description)
	r := referencePattern.FindStringSubmatch(description)
	if u == nil || r == nil {
		return "", "", false
	}
	return u[1], r[1], true
}

// SelectActionable returns the tickets in raw that should be engaged, keyed
// by ticket ID. A ticket is skipped when it is not open, when its last
// comment (of at least two) was written by the bot, or when its description
// does not name both a user and a reference code. A failed comment fetch
// skips only that ticket.
func (m *Matcher) SelectActionable(ctx context.Context, raw []protocol.RawTicket, comments CommentFetcher) map[string]protocol.Ticket {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := make(map[string]protocol.Ticket)
	for _, rt := range raw {
		if !m.isOpen(rt.Status) {
			logger.Debug("ticket not open", "ticket", rt.ID, "status", rt.Status)
			continue
		}

		cs, err := comments(ctx, rt.ID)
		if err != nil {
			logger.Error("fetch ticket comments", "ticket", rt.ID, "error", err)
			continue
		}
		if len(cs) > 1 && cs[len(cs)-1].Author == m.BotAuthor {
			logger.Debug("last comment is ours, awaiting user", "ticket", rt.ID)
			continue
		}

		username, ref, ok := ParseDescription(rt.Description)
		if !ok {
			logger.Debug("ticket description has no user or reference code", "ticket", rt.ID)
			continue
		}
		out[rt.ID] = protocol.Ticket{
			ID:            rt.ID,
			Username:      username,
			ReferenceCode: ref,
			Status:        rt.Status,
		}
	}
	return out
}

func (m *Matcher) isOpen(status protocol.TicketStatus) bool {
	statuses := m.OpenStatuses
	if len(statuses) == 0 {
		statuses = DefaultOpenStatuses
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
