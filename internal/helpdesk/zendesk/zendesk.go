// Package zendesk reads the helpdesk queue from, and applies workflow
// updates to, a Zendesk instance over its REST API.
package zendesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// maxPages bounds pagination so a misbehaving server cannot loop us forever.
const maxPages = 100

// Config holds Zendesk API settings.
type Config struct {
	URL      string // e.g. https://acme.zendesk.com
	Email    string
	APIToken string
	// BotAuthor is written to metadata.custom.author on every update so that
	// comments made on the bot's behalf can be told apart from human ones.
	BotAuthor string
	Timeout   time.Duration
}

// Client implements the engine's TicketSource and TicketUpdater.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Zendesk client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("zendesk: url is required")
	}
	if cfg.Email == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("zendesk: email and api_token are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type apiTicket struct {
	ID          int64     `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Tags        []string  `json:"tags"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type searchResponse struct {
	Results  []apiTicket `json:"results"`
	Count    int         `json:"count"`
	NextPage *string     `json:"next_page"`
}

type apiComment struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  struct {
		Custom map[string]any `json:"custom"`
	} `json:"metadata"`
}

type commentsResponse struct {
	Comments []apiComment `json:"comments"`
	NextPage *string      `json:"next_page"`
}

// Search returns all tickets matching query, following pagination.
func (c *Client) Search(ctx context.Context, query string) ([]protocol.RawTicket, error) {
	q := url.Values{"query": {strings.TrimSpace("type:ticket " + query)}}
	next := c.cfg.URL + "/api/v2/search.json?" + q.Encode()

	var out []protocol.RawTicket
	for page := 0; next != "" && page < maxPages; page++ {
		var resp searchResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &resp); err != nil {
			return nil, fmt.Errorf("zendesk: search: %w", err)
		}
		for _, t := range resp.Results {
			out = append(out, protocol.RawTicket{
				ID:          strconv.FormatInt(t.ID, 10),
				Subject:     t.Subject,
				Description: t.Description,
				Status:      protocol.TicketStatus(t.Status),
				Tags:        t.Tags,
				UpdatedAt:   t.UpdatedAt,
			})
		}
		next = deref(resp.NextPage)
	}
	c.logger.Debug("zendesk search", "query", query, "count", len(out))
	return out, nil
}

// Comments returns a ticket's comments, oldest first.
func (c *Client) Comments(ctx context.Context, ticketID string) ([]protocol.Comment, error) {
	next := fmt.Sprintf("%s/api/v2/tickets/%s/comments.json", c.cfg.URL, url.PathEscape(ticketID))

	var out []protocol.Comment
	for page := 0; next != "" && page < maxPages; page++ {
		var resp commentsResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &resp); err != nil {
			return nil, fmt.Errorf("zendesk: comments for %s: %w", ticketID, err)
		}
		for _, cm := range resp.Comments {
			out = append(out, protocol.Comment{
				ID:        strconv.FormatInt(cm.ID, 10),
				Author:    commentAuthor(cm),
				Body:      cm.Body,
				CreatedAt: cm.CreatedAt,
			})
		}
		next = deref(resp.NextPage)
	}
	return out, nil
}

// UpdateTicket applies the workflow payload to the ticket.
func (c *Client) UpdateTicket(ctx context.Context, u protocol.TicketUpdate) error {
	ticket := make(map[string]any, len(u.Payload)+1)
	maps.Copy(ticket, u.Payload)
	if c.cfg.BotAuthor != "" {
		ticket["metadata"] = map[string]any{"custom": map[string]any{"author": c.cfg.BotAuthor}}
	}
	body, err := json.Marshal(map[string]any{"ticket": ticket})
	if err != nil {
		return fmt.Errorf("zendesk: encode update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/tickets/%s.json", c.cfg.URL, url.PathEscape(u.TicketID))
	if err := c.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		return fmt.Errorf("zendesk: update ticket %s: %w", u.TicketID, err)
	}
	c.logger.Info("zendesk ticket updated", "ticket", u.TicketID)
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Email+"/token", c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// commentAuthor prefers the author recorded in custom metadata.
func commentAuthor(cm apiComment) string {
	if a, ok := cm.Metadata.Custom["author"].(string); ok && a != "" {
		return a
	}
	return strconv.FormatInt(cm.AuthorID, 10)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
