package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/talktome/internal/connector"
	slackconn "github.com/h1v3-io/talktome/internal/connector/slack"
	"github.com/h1v3-io/talktome/pkg/protocol"
)

// maxBodyBytes caps the size of an interactivity request body.
const maxBodyBytes = 1 << 20

// handleTimeout bounds the work done for one action after it was acknowledged.
const handleTimeout = 30 * time.Second

// Config holds interactivity endpoint configuration.
type Config struct {
	// SigningSecret verifies X-Slack-Signature. Empty disables the check.
	SigningSecret string `json:"signing_secret,omitempty"`
	// VerificationToken is the legacy token carried in the payload. Empty disables the check.
	VerificationToken string `json:"verification_token,omitempty"`
}

// Handler receives Slack interactivity requests (button clicks) and hands
// the decoded action to an ActionHandler.
type Handler struct {
	config  Config
	handler connector.ActionHandler
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates a new interactivity handler.
func New(cfg Config, handler connector.ActionHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
}

// ServeHTTP handles POST requests with a form-encoded "payload" field.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticate(r, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	cb, err := slackconn.ParsePayload(form.Get("payload"))
	if err != nil {
		h.logger.Warn("rejecting interaction", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if h.config.VerificationToken != "" && cb.Token != h.config.VerificationToken {
		h.logger.Error("invalid verification token", "team", cb.Team.ID)
		http.Error(w, "invalid verification token", http.StatusForbidden)
		return
	}

	action, err := slackconn.ParseAction(cb)
	switch {
	case errors.Is(err, slackconn.ErrUnsupportedInteraction):
		h.logger.Debug("ignoring interaction", "type", cb.Type)
		writeOK(w)
		return
	case errors.Is(err, protocol.ErrMalformedAction):
		h.logger.Warn("rejecting interaction", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Slack gives up on the request after 3 seconds; the chat effects and
	// the ticket update run after the acknowledgement.
	writeOK(w)

	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()
		if err := h.handler(ctx, action); err != nil {
			h.logger.Error("action handler error",
				"workflow", action.Workflow,
				"action_id", action.ActionID,
				"ticket", action.TicketRef,
				"error", err,
			)
		}
	}()
}

// Wait blocks until every acknowledged action has been handled.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) authenticate(r *http.Request, body []byte) bool {
	if h.config.SigningSecret == "" {
		// No secret configured: allow (for development)
		return true
	}
	sv, err := slack.NewSecretsVerifier(r.Header, h.config.SigningSecret)
	if err != nil {
		h.logger.Warn("missing slack signature headers", "error", err)
		return false
	}
	if _, err := sv.Write(body); err != nil {
		return false
	}
	if err := sv.Ensure(); err != nil {
		h.logger.Warn("slack signature mismatch", "error", err)
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
