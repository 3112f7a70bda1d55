package talk

import (
	"time"

	"github.com/h1v3-io/talktome/pkg/protocol"
)

// DefaultHistoryWindow is how far back a conversation is searched for the
// bot's last message.
const DefaultHistoryWindow = 30 * 24 * time.Hour

// LastBotMessage returns the newest message in history authored by bot and
// posted within window of now. A window <= 0 disables the cutoff.
// The order of history does not matter.
func LastBotMessage(history []protocol.Message, bot string, window time.Duration, now time.Time) (protocol.Message, bool) {
	var (
		last  protocol.Message
		found bool
	)
	cutoff := now.Add(-window)
	for _, m := range history {
		if m.Author != bot {
			continue
		}
		if window > 0 && m.Timestamp.Before(cutoff) {
			continue
		}
		if !found || m.Timestamp.After(last.Timestamp) {
			last = m
			found = true
		}
	}
	return last, found
}
