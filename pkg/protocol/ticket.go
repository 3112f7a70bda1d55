package protocol

import "time"

// TicketStatus is the helpdesk status of a ticket.
type TicketStatus string

const (
	TicketNew     TicketStatus = "new"
	TicketOpen    TicketStatus = "open"
	TicketPending TicketStatus = "pending"
	TicketSolved  TicketStatus = "solved"
	TicketClosed  TicketStatus = "closed"
)

// RawTicket is a ticket as returned by a helpdesk search, before matching.
type RawTicket struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject,omitempty"`
	Description string       `json:"description"`
	Status      TicketStatus `json:"status"`
	Tags        []string     `json:"tags,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

// Comment is a single comment on a helpdesk ticket.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Ticket is an actionable ticket: the user to engage and the reference
// code extracted from the ticket description.
type Ticket struct {
	ID            string       `json:"id"`
	Username      string       `json:"username"`
	ReferenceCode string       `json:"reference_code"`
	Status        TicketStatus `json:"status"`
}

// Vars returns the template variables a ticket contributes to workflow messages.
func (t Ticket) Vars() map[string]string {
	return map[string]string{
		"ticket_id":      t.ID,
		"username":       t.Username,
		"ref":            t.ReferenceCode,
		"barcode":        t.ReferenceCode,
		"reference_code": t.ReferenceCode,
	}
}

// TicketUpdate is a request to mutate a helpdesk ticket. Payload is the
// workflow step's update_ticket mapping, passed through untouched.
type TicketUpdate struct {
	TicketID string         `json:"ticket_id"`
	Payload  map[string]any `json:"payload"`
}
