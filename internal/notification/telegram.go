package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts via Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	log      zerolog.Logger
}

// NewTelegramNotifier creates a Telegram notifier.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   &http.Client{Timeout: deliveryTimeout},
		log:      logger.Component("telegram"),
	}
}

// Send posts the alert as a MarkdownV2 message.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := map[string]string{
		"chat_id":    t.chatID,
		"text":       formatTelegram(alert),
		"parse_mode": "MarkdownV2",
	}
	status, err := postJSON(ctx, t.client, fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken), msg, nil)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", status)
	}

	t.log.Debug().Str("alert_id", alert.ID).Str("title", alert.Title).Msg("sent alert")
	return nil
}

// formatTelegram renders "[LEVEL] *title*", the message and the UTC time.
func formatTelegram(a Alert) string {
	var b strings.Builder
	b.WriteString(escapeMarkdown("[" + strings.ToUpper(string(a.Level)) + "] "))
	b.WriteString("*" + escapeMarkdown(a.Title) + "*\n\n")
	b.WriteString(escapeMarkdown(a.Message))
	b.WriteString("\n_" + escapeMarkdown(a.TS.UTC().Format("2006-01-02 15:04:05 MST")) + "_")
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

// escapeMarkdown escapes MarkdownV2 special characters.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
