package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/utils"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends operator alerts to a Telegram chat. As a Notifier it
// forwards only broadcast and error notifications, without blocking the caller.
type TelegramNotifier struct {
	Token      string
	ChatID     string
	BaseURL    string
	Client     *http.Client
	MaxRetries int
	RetryDelay time.Duration

	log *zap.SugaredLogger
}

func NewTelegramNotifier(token, chatID string, maxRetries int, retryDelay time.Duration) *TelegramNotifier {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &TelegramNotifier{
		Token:      token,
		ChatID:     chatID,
		BaseURL:    telegramAPI,
		Client:     &http.Client{Timeout: 10 * time.Second},
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		log:        utils.GetLogger(),
	}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.Token)
	resp, err := t.Client.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry tries Send up to MaxRetries times, sleeping RetryDelay between attempts.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	var err error
	for attempt := 1; attempt <= t.MaxRetries; attempt++ {
		if err = t.Send(message); err == nil {
			return nil
		}
		t.log.Warnw("SendWithRetry | telegram send failed", "attempt", attempt, "error", err)
		if attempt < t.MaxRetries {
			time.Sleep(t.RetryDelay)
		}
	}
	return fmt.Errorf("failed to send after %d attempts: %w", t.MaxRetries, err)
}

// RetryWithNotification runs action with the same retry policy and alerts the
// chat when every attempt fails.
func (t *TelegramNotifier) RetryWithNotification(action func() error, description string) error {
	var err error
	for attempt := 1; attempt <= t.MaxRetries; attempt++ {
		if err = action(); err == nil {
			return nil
		}
		t.log.Warnw("RetryWithNotification | action failed", "action", description, "attempt", attempt, "error", err)
		if attempt < t.MaxRetries {
			time.Sleep(t.RetryDelay)
		}
	}
	msg := fmt.Sprintf("%s failed after %d attempts: %v", description, t.MaxRetries, err)
	if sendErr := t.SendWithRetry(msg); sendErr != nil {
		t.log.Errorw("RetryWithNotification | failed to alert", "error", sendErr)
	}
	return err
}

func (t *TelegramNotifier) Notify(n Notification) {
	if !n.Broadcast() && n.Type != Error {
		return
	}
	msg := fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Type)), n.Text)
	if n.LedgerKey != "" {
		msg += " (" + n.LedgerKey + ")"
	}
	go func() {
		if err := t.SendWithRetry(msg); err != nil {
			t.log.Errorw("Notify | telegram alert dropped", "error", err)
		}
	}()
}
