package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the Telegram Bot API for one configured chat.
// Constructed once and injected; no package-level credentials.
type Client struct {
	token  string
	chatID string
	http   *http.Client
	log    zerolog.Logger
}

func NewClient(token, chatID string, log zerolog.Logger) *Client {
	return &Client{
		token:  token,
		chatID: chatID,
		http:   &http.Client{Timeout: 70 * time.Second},
		log:    log.With().Str("component", "telegram").Logger(),
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.token != "" && c.chatID != ""
}

// Notify sends a message to the configured chat. Best effort: delivery
// failures are logged, never propagated, so a Telegram outage cannot
// block the bet pipeline.
func (c *Client) Notify(text string) {
	if !c.Enabled() {
		c.log.Warn().Msg("telegram credentials missing, skipping notification")
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)

	payload := map[string]string{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	resp, err := c.http.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		c.log.Warn().Err(err).Msg("telegram notify failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Msg("telegram API rejected notification")
	}
}
