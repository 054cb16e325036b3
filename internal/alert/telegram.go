package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TelegramChannel sends trade events through the bot API as Markdown
// messages to a single operator chat.
type TelegramChannel struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func levelIcon(level Level) string {
	switch level {
	case Warning:
		return "⚠️"
	case Error:
		return "❌"
	case Critical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

func (t *TelegramChannel) Send(ctx context.Context, alert Payload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s *[%s] %s*\n\n%s", levelIcon(alert.Level), alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		text.WriteString("\n")
		for _, k := range sortedKeys(alert.Fields) {
			fmt.Fprintf(&text, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text.String(),
		"parse_mode": "Markdown",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	return postJSON(ctx, t.client, url, payload)
}
