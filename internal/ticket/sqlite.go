package ticket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// SQLiteStore implements the engine's TicketSource and TicketUpdater on a
// SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	botAuthor string
	now       func() time.Time
	logger    *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// Comments added by UpdateTicket are attributed to botAuthor.
func NewSQLiteStore(path, botAuthor string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// One connection serialises writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{db: db, botAuthor: botAuthor, now: time.Now, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id          TEXT PRIMARY KEY,
			subject     TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'new',
			tags        TEXT NOT NULL DEFAULT '[]',
			fields      TEXT NOT NULL DEFAULT '{}',
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ticket_comments (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id  TEXT NOT NULL REFERENCES tickets(id),
			author     TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_comments_ticket ON ticket_comments(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save creates or replaces a ticket's core fields. Fields set by earlier
// updates are kept.
func (s *SQLiteStore) Save(ctx context.Context, t protocol.RawTicket) error {
	if t.ID == "" {
		return fmt.Errorf("ticket store: save: id is required")
	}
	if t.Status == "" {
		t.Status = protocol.TicketNew
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	tags, _ := json.Marshal(nonNil(t.Tags))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, subject, description, status, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject=excluded.subject, description=excluded.description, status=excluded.status,
			tags=excluded.tags, updated_at=excluded.updated_at
	`, t.ID, t.Subject, t.Description, string(t.Status), string(tags), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("ticket store: save: %w", err)
	}
	return nil
}

// Get retrieves a ticket by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, subject, description, status, tags, fields, updated_at FROM tickets WHERE id = ?`, id)

	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket store: get %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return r, nil
}

// List returns tickets matching the filter, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	query := "SELECT id, subject, description, status, tags, fields, updated_at FROM tickets WHERE 1=1"
	var args []any

	if len(filter.Statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(", ?", len(filter.Statuses)-1) + ")"
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	for _, tag := range filter.Tags {
		query += " AND EXISTS (SELECT 1 FROM json_each(tickets.tags) WHERE value = ?)"
		args = append(args, tag)
	}
	if filter.Text != "" {
		query += " AND (subject LIKE ? OR description LIKE ?)"
		pattern := "%" + filter.Text + "%"
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Search runs a helpdesk-style query (see ParseQuery).
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]protocol.RawTicket, error) {
	records, err := s.List(ctx, ParseQuery(query))
	if err != nil {
		return nil, err
	}
	out := make([]protocol.RawTicket, len(records))
	for i, r := range records {
		out[i] = r.RawTicket
	}
	return out, nil
}

// AddComment appends a comment to a ticket.
func (s *SQLiteStore) AddComment(ctx context.Context, ticketID string, c protocol.Comment) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ticket store: add comment: %w", err)
	}
	defer tx.Rollback()

	if err := addComment(ctx, tx, ticketID, c); err != nil {
		return fmt.Errorf("ticket store: add comment: %w", err)
	}
	return tx.Commit()
}

// Comments returns a ticket's comments, oldest first.
func (s *SQLiteStore) Comments(ctx context.Context, ticketID string) ([]protocol.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, author, body, created_at FROM ticket_comments WHERE ticket_id = ? ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: comments: %w", err)
	}
	defer rows.Close()

	var out []protocol.Comment
	for rows.Next() {
		var c protocol.Comment
		var id int64
		var ts string
		if err := rows.Scan(&id, &c.Author, &c.Body, &ts); err != nil {
			return nil, fmt.Errorf("ticket store: scan comment: %w", err)
		}
		c.ID = strconv.FormatInt(id, 10)
		c.CreatedAt = parseTime(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateTicket applies a workflow update. The payload keys status, tags
// and comment are interpreted; every other key is merged into the ticket's
// fields. A comment is either a string or a mapping with a body and is
// attributed to the bot author.
func (s *SQLiteStore) UpdateTicket(ctx context.Context, u protocol.TicketUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ticket store: update: %w", err)
	}
	defer tx.Rollback()

	var status, tagsJSON, fieldsJSON string
	err = tx.QueryRowContext(ctx, `SELECT status, tags, fields FROM tickets WHERE id = ?`, u.TicketID).
		Scan(&status, &tagsJSON, &fieldsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ticket store: update %s: %w", u.TicketID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("ticket store: update: %w", err)
	}

	fields := map[string]any{}
	json.Unmarshal([]byte(fieldsJSON), &fields)
	now := s.now()

	for key, val := range u.Payload {
		switch key {
		case "status":
			st, ok := val.(string)
			if !ok || st == "" {
				return fmt.Errorf("ticket store: update %s: status must be a string", u.TicketID)
			}
			status = strings.ToLower(st)
		case "tags":
			tags, err := stringList(val)
			if err != nil {
				return fmt.Errorf("ticket store: update %s: tags: %w", u.TicketID, err)
			}
			b, _ := json.Marshal(tags)
			tagsJSON = string(b)
		case "comment":
			body, err := commentBody(val)
			if err != nil {
				return fmt.Errorf("ticket store: update %s: comment: %w", u.TicketID, err)
			}
			c := protocol.Comment{Author: s.botAuthor, Body: body, CreatedAt: now}
			if err := addComment(ctx, tx, u.TicketID, c); err != nil {
				return fmt.Errorf("ticket store: update %s: %w", u.TicketID, err)
			}
		default:
			fields[key] = val
		}
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("ticket store: update %s: encode fields: %w", u.TicketID, err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE tickets SET status = ?, tags = ?, fields = ?, updated_at = ? WHERE id = ?`,
		status, tagsJSON, string(b), formatTime(now), u.TicketID)
	if err != nil {
		return fmt.Errorf("ticket store: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ticket store: update commit: %w", err)
	}
	s.logger.Info("ticket updated", "ticket", u.TicketID, "status", status)
	return nil
}

// --- helpers ---

func addComment(ctx context.Context, tx *sql.Tx, ticketID string, c protocol.Comment) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE id = ?`, ticketID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%s: %w", ticketID, ErrNotFound)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO ticket_comments (ticket_id, author, body, created_at) VALUES (?, ?, ?, ?)`,
		ticketID, c.Author, c.Body, formatTime(c.CreatedAt))
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(s scannable) (*Record, error) {
	var r Record
	var status, tagsJSON, fieldsJSON, updatedAt string

	err := s.Scan(&r.ID, &r.Subject, &r.Description, &status, &tagsJSON, &fieldsJSON, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.Status = protocol.TicketStatus(status)
	json.Unmarshal([]byte(tagsJSON), &r.Tags)
	json.Unmarshal([]byte(fieldsJSON), &r.Fields)
	r.UpdatedAt = parseTime(updatedAt)
	if len(r.Fields) == 0 {
		r.Fields = nil
	}
	return &r, nil
}

func commentBody(v any) (string, error) {
	switch c := v.(type) {
	case string:
		return c, nil
	case map[string]any:
		if body, ok := c["body"].(string); ok {
			return body, nil
		}
		if body, ok := c["html_body"].(string); ok {
			return body, nil
		}
		return "", fmt.Errorf("mapping has no body")
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

func stringList(v any) ([]string, error) {
	switch l := v.(type) {
	case []string:
		return l, nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
