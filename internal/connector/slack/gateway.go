package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// historyPageSize is the page size used for conversations.history.
const historyPageSize = 200

// Config holds Slack connector configuration.
type Config struct {
	BotToken string // xoxb-... Bot User OAuth Token
	AppToken string // xapp-... App-Level Token (Socket Mode only)
	// Domain is appended to helpdesk usernames to look users up by e-mail.
	Domain string
	// APIURL overrides the Slack Web API base URL (tests).
	APIURL string
	// BotName is the author given to messages this bot posted. Defaults to
	// the bot user's name from auth.test.
	BotName string
}

// Gateway implements the engine's chat gateway on the Slack Web API.
type Gateway struct {
	api    *slack.Client
	domain string
	logger *slog.Logger

	botName   string
	botUserID string
	botID     string
}

// NewGateway creates a gateway and checks the bot token.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("slack: domain is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []slack.Option{}
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	api := slack.New(cfg.BotToken, opts...)

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "user_id", authResp.UserID, "bot_id", authResp.BotID, "team", authResp.Team)

	name := cfg.BotName
	if name == "" {
		name = authResp.User
	}
	return &Gateway{
		api:       api,
		domain:    cfg.Domain,
		logger:    logger,
		botName:   name,
		botUserID: authResp.UserID,
		botID:     authResp.BotID,
	}, nil
}

// Identity is the author recorded on this bot's own messages in FetchHistory.
func (g *Gateway) Identity() string { return g.botName }

// Client returns the underlying Slack client.
func (g *Gateway) Client() *slack.Client { return g.api }

// OpenConversation looks the user up by username@domain and opens a DM.
func (g *Gateway) OpenConversation(ctx context.Context, username string) (string, error) {
	email := fmt.Sprintf("%s@%s", username, g.domain)
	user, err := g.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		return "", fmt.Errorf("slack: lookup %s: %w", email, err)
	}
	ch, _, _, err := g.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{user.ID},
	})
	if err != nil {
		return "", fmt.Errorf("slack: open conversation with %s: %w", user.ID, err)
	}
	return ch.ID, nil
}

// FetchHistory returns the channel's messages posted at or after since, newest first.
func (g *Gateway) FetchHistory(ctx context.Context, channelID string, since time.Time) ([]protocol.Message, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     historyPageSize,
	}
	if !since.IsZero() {
		params.Oldest = formatTS(since)
	}

	var out []protocol.Message
	for {
		resp, err := g.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack: history %s: %w", channelID, err)
		}
		for _, m := range resp.Messages {
			out = append(out, g.toMessage(m))
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}
	return out, nil
}

// SendMessage posts msg to the channel and returns its timestamp.
func (g *Gateway) SendMessage(ctx context.Context, channelID string, msg protocol.OutboundMessage) (string, error) {
	_, ts, err := g.api.PostMessageContext(ctx, channelID, messageOptions(msg)...)
	if err != nil {
		return "", fmt.Errorf("slack: send message: %w", err)
	}
	return ts, nil
}

// UpdateMessage replaces the message at ts with msg.
func (g *Gateway) UpdateMessage(ctx context.Context, channelID, ts string, msg protocol.OutboundMessage) error {
	_, _, _, err := g.api.UpdateMessageContext(ctx, channelID, ts, messageOptions(msg)...)
	if err != nil {
		return fmt.Errorf("slack: update message %s: %w", ts, err)
	}
	return nil
}

func messageOptions(msg protocol.OutboundMessage) []slack.MsgOption {
	return []slack.MsgOption{
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(Blocks(msg)...),
	}
}

// toMessage maps a Slack message to a history entry. Messages posted by
// this bot, recognised by its user or bot ID, are attributed to Identity().
// Other bots keep their display name.
func (g *Gateway) toMessage(m slack.Message) protocol.Message {
	msg := protocol.Message{
		Ref:       m.Timestamp,
		Author:    m.User,
		Text:      m.Text,
		Timestamp: parseTS(m.Timestamp),
	}
	switch {
	case g.isSelf(m):
		msg.Author = g.botName
	case m.BotID != "":
		switch {
		case m.Username != "":
			msg.Author = m.Username
		case m.BotProfile != nil && m.BotProfile.Name != "":
			msg.Author = m.BotProfile.Name
		default:
			msg.Author = m.BotID
		}
	}
	return msg
}

func (g *Gateway) isSelf(m slack.Message) bool {
	if g.botUserID != "" && m.User == g.botUserID {
		return true
	}
	return g.botID != "" && m.BotID == g.botID
}

// parseTS converts a Slack timestamp ("1700000000.000100") to a time.
func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		for len(frac) < 6 {
			frac += "0"
		}
		usec, _ = strconv.ParseInt(frac[:6], 10, 64)
	}
	return time.Unix(s, usec*int64(time.Microsecond))
}

func formatTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}
