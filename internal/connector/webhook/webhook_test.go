package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

const blockActionPayload = `{
  "type": "block_actions",
  "token": "legacy-token",
  "team": {"id": "T1"},
  "user": {"id": "U123"},
  "channel": {"id": "D042"},
  "message": {
    "ts": "1700000000.000100",
    "text": "Hi 99",
    "blocks": [
      {"type": "section", "text": {"type": "plain_text", "text": "Hi 99"}},
      {"type": "actions", "block_id": "scenario", "elements": [
        {"type": "button", "action_id": "yes", "value": "42", "text": {"type": "plain_text", "text": "Yes"}}
      ]}
    ]
  },
  "actions": [
    {"type": "button", "action_id": "yes", "block_id": "scenario", "value": "42", "action_ts": "1700000001.000200"}
  ]
}`

type capturedActions struct {
	mu      sync.Mutex
	actions []protocol.Action
	err     error
}

func (c *capturedActions) handler(_ context.Context, a protocol.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, a)
	return c.err
}

func (c *capturedActions) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions)
}

func newTestHandler(cfg Config) (*Handler, *capturedActions) {
	cap := &capturedActions{}
	return New(cfg, cap.handler, nil), cap
}

func formBody(payload string) string {
	return url.Values{"payload": {payload}}.Encode()
}

func newRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/slack/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// sign adds Slack v0 signature headers for body.
func sign(req *http.Request, body, secret string, ts time.Time) {
	stamp := fmt.Sprint(ts.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + stamp + ":" + body))
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhook_BlockAction(t *testing.T) {
	h, cap := newTestHandler(Config{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(formBody(blockActionPayload)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	h.Wait()
	if cap.count() != 1 {
		t.Fatalf("actions = %d", cap.count())
	}
	a := cap.actions[0]
	if a.ActionID != "yes" || a.TicketRef != "42" || a.ChannelID != "D042" || a.Workflow != "scenario" {
		t.Errorf("action = %+v", a)
	}
}

func TestWebhook_SigningSecret(t *testing.T) {
	const secret = "8f742231b10e8888abcd99yyyzzz85a5"
	h, cap := newTestHandler(Config{SigningSecret: secret})
	body := formBody(blockActionPayload)

	// Valid signature
	req := newRequest(body)
	sign(req, body, secret, time.Now())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with valid signature, got %d", w.Code)
	}

	// Wrong secret
	req = newRequest(body)
	sign(req, body, "other-secret", time.Now())
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid signature, got %d", w.Code)
	}

	// No headers
	w = httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(body))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without signature, got %d", w.Code)
	}

	h.Wait()
	if cap.count() != 1 {
		t.Errorf("handler called %d times", cap.count())
	}
}

func TestWebhook_VerificationToken(t *testing.T) {
	h, cap := newTestHandler(Config{VerificationToken: "expected"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(formBody(blockActionPayload)))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	h.Wait()
	if cap.count() != 0 {
		t.Error("handler should not be called")
	}

	h, _ = newTestHandler(Config{VerificationToken: "legacy-token"})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(formBody(blockActionPayload)))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	missingValue := strings.Replace(blockActionPayload, `"value": "42", "action_ts"`, `"action_ts"`, 1)

	tests := []struct {
		name string
		body string
	}{
		{"no payload", "foo=bar"},
		{"bad json", formBody("{nope")},
		{"missing value", formBody(missingValue)},
		{"no actions", formBody(`{"type":"block_actions","channel":{"id":"D1"}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, cap := newTestHandler(Config{})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, newRequest(tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if cap.count() != 0 {
				t.Error("handler should not be called")
			}
		})
	}
}

func TestWebhook_UnsupportedInteractionIgnored(t *testing.T) {
	h, cap := newTestHandler(Config{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(formBody(`{"type":"view_submission"}`)))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	h.Wait()
	if cap.count() != 0 {
		t.Error("handler should not be called")
	}
}

func TestWebhook_HandlerErrorAfterAck(t *testing.T) {
	h, cap := newTestHandler(Config{})
	cap.err = errors.New("slack down")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(formBody(blockActionPayload)))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	h.Wait()
	if cap.count() != 1 {
		t.Errorf("handler called %d times", cap.count())
	}
}

func TestWebhook_AcksBeforeHandling(t *testing.T) {
	release := make(chan struct{})
	handled := make(chan error, 1)
	h := New(Config{}, func(ctx context.Context, _ protocol.Action) error {
		<-release
		handled <- ctx.Err()
		return nil
	}, nil)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	req := newRequest(formBody(blockActionPayload)).WithContext(reqCtx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 while handler is blocked, got %d", w.Code)
	}

	// The request ends before the action is handled.
	cancelReq()
	close(release)
	h.Wait()

	select {
	case err := <-handled:
		if err != nil {
			t.Errorf("handler context = %v, want live", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(Config{})

	req := httptest.NewRequest(http.MethodGet, "/slack/actions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
