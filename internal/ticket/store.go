// Package ticket is a local helpdesk backend on SQLite. It serves the same
// search, comment and update operations as a hosted helpdesk so that
// workflows can be run and rehearsed offline.
package ticket

import (
	"errors"
	"strings"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// ErrNotFound is returned when a ticket does not exist.
var ErrNotFound = errors.New("ticket: not found")

// Record is a stored ticket together with the free-form fields that
// workflow updates have set on it.
type Record struct {
	protocol.RawTicket
	Fields map[string]any `json:"fields,omitempty"`
}

// Filter constrains ticket list queries.
type Filter struct {
	Statuses []protocol.TicketStatus // any may match
	Tags     []string                // all must match
	Text     string                  // substring of subject or description
	Limit    int                     // 0 = no limit
}

// ParseQuery turns a helpdesk search string into a Filter. It understands
// status:<s> (repeatable), tags:<t> / tag:<t> (repeatable) and type:ticket;
// remaining words are matched as text.
func ParseQuery(query string) Filter {
	var f Filter
	var words []string
	for _, term := range strings.Fields(query) {
		key, val, ok := strings.Cut(term, ":")
		if !ok || val == "" {
			words = append(words, term)
			continue
		}
		switch strings.ToLower(key) {
		case "status":
			f.Statuses = append(f.Statuses, protocol.TicketStatus(strings.ToLower(val)))
		case "tags", "tag":
			f.Tags = append(f.Tags, val)
		case "type":
			// every record is a ticket
		default:
			words = append(words, term)
		}
	}
	f.Text = strings.Join(words, " ")
	return f
}
