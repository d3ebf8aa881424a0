package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers one rendered message to the notification channel.
// Delivery is a single attempt: callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// Notify calls the sendMessage API with HTML formatting enabled.
func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if n.botToken == "" {
		return fmt.Errorf("telegram bot token missing; set telegram.bot_token")
	}
	if n.chatID == "" {
		return fmt.Errorf("telegram chat id missing; set telegram.chat_id")
	}

	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return telegramError(resp.StatusCode, result.Description)
	}
	if decodeErr == nil && !result.OK {
		return telegramError(resp.StatusCode, result.Description)
	}

	n.logger.Info().Msg("telegram message sent")
	return nil
}

// telegramError maps the common API failures onto actionable messages.
func telegramError(status int, description string) error {
	lower := strings.ToLower(description)
	switch {
	case status == http.StatusUnauthorized || strings.Contains(lower, "unauthorized"):
		return fmt.Errorf("telegram rejected the bot token; check telegram.bot_token")
	case strings.Contains(lower, "chat not found"):
		return fmt.Errorf("telegram chat not found; message the bot first, then retry")
	case description != "":
		return fmt.Errorf("telegram error (%d): %s", status, description)
	default:
		return fmt.Errorf("telegram error (%d)", status)
	}
}

var _ Notifier = (*TelegramNotifier)(nil)
