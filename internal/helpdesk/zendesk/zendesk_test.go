package zendesk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/", Email: "bot@example.com", APIToken: "tok", BotAuthor: "talktome"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Email: "a", APIToken: "b"}, nil); err == nil {
		t.Error("expected error without url")
	}
	if _, err := New(Config{URL: "https://x"}, nil); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestSearch_Paginates(t *testing.T) {
	var srvURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "bot@example.com/token" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v2/search.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") == "" {
			if q := r.URL.Query().Get("query"); q != "type:ticket status:open tags:remediation" {
				t.Errorf("query = %q", q)
			}
			next := srvURL + "/api/v2/search.json?page=2"
			json.NewEncoder(w).Encode(map[string]any{
				"results":   []map[string]any{{"id": 1, "description": "barcode 1 assigned_to al", "status": "open"}},
				"count":     2,
				"next_page": next,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results":   []map[string]any{{"id": 2, "description": "d", "status": "new", "tags": []string{"x"}}},
			"count":     2,
			"next_page": nil,
		})
	})
	srvURL = c.cfg.URL

	tickets, err := c.Search(context.Background(), "status:open tags:remediation")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("tickets = %d", len(tickets))
	}
	if tickets[0].ID != "1" || tickets[0].Status != protocol.TicketOpen {
		t.Errorf("ticket 0 = %+v", tickets[0])
	}
	if tickets[1].ID != "2" || tickets[1].Status != protocol.TicketNew || len(tickets[1].Tags) != 1 {
		t.Errorf("ticket 1 = %+v", tickets[1])
	}
}

func TestSearch_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	})
	_, err := c.Search(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "HTTP 429") {
		t.Fatalf("err = %v", err)
	}
}

func TestComments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/tickets/42/comments.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"comments":[
			{"id": 1, "author_id": 900, "body": "opened", "created_at": "2024-05-01T10:00:00Z"},
			{"id": 2, "author_id": 901, "body": "bot reply", "created_at": "2024-05-01T11:00:00Z",
			 "metadata": {"custom": {"author": "talktome"}}}
		], "next_page": null}`))
	})

	cs, err := c.Comments(context.Background(), "42")
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(cs) != 2 {
		t.Fatalf("comments = %d", len(cs))
	}
	if cs[0].Author != "900" {
		t.Errorf("author 0 = %q", cs[0].Author)
	}
	if cs[1].Author != "talktome" {
		t.Errorf("author 1 = %q", cs[1].Author)
	}
	if cs[1].CreatedAt.Hour() != 11 {
		t.Errorf("created_at = %v", cs[1].CreatedAt)
	}
}

func TestUpdateTicket(t *testing.T) {
	var got map[string]map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/v2/tickets/42.json" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"ticket":{"id":42}}`))
	})

	err := c.UpdateTicket(context.Background(), protocol.TicketUpdate{
		TicketID: "42",
		Payload:  map[string]any{"status": "solved"},
	})
	if err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	ticket := got["ticket"]
	if ticket["status"] != "solved" {
		t.Errorf("status = %v", ticket["status"])
	}
	meta, _ := ticket["metadata"].(map[string]any)
	custom, _ := meta["custom"].(map[string]any)
	if custom["author"] != "talktome" {
		t.Errorf("metadata = %v", ticket["metadata"])
	}
}
