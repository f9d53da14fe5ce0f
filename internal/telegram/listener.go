package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Update represents a Telegram Update object (partial schema)
type Update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

type updateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// CommandHandler processes a /command and returns the reply text.
type CommandHandler func(command string) string

// SignalHandler receives every non-command message from the authorized
// chat. It must not block the polling loop for long.
type SignalHandler func(rawText string)

// Listen long-polls for updates until ctx is cancelled. Commands go to
// onCommand, everything else to onSignal. Messages from any chat other
// than the configured one are dropped without a reply, so probing
// strangers learn nothing about the bot.
func (c *Client) Listen(ctx context.Context, onCommand CommandHandler, onSignal SignalHandler) {
	if !c.Enabled() {
		c.log.Warn().Msg("telegram credentials missing, listener disabled")
		return
	}

	authChatID, err := strconv.ParseInt(c.chatID, 10, 64)
	if err != nil {
		c.log.Error().Str("chat_id", c.chatID).Msg("invalid authorized chat id, listener disabled")
		return
	}

	offset := 0
	c.log.Info().Msg("telegram listener started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("telegram listener stopped")
			return
		default:
		}

		updates, err := c.poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("telegram poll failed")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1

			// Access control
			if update.Message.Chat.ID != authChatID {
				c.log.Warn().
					Str("username", update.Message.From.Username).
					Int64("chat_id", update.Message.Chat.ID).
					Msg("unauthorized access attempt ignored")
				continue
			}

			text := strings.TrimSpace(update.Message.Text)
			if text == "" {
				continue
			}

			if strings.HasPrefix(text, "/") {
				c.log.Info().Str("command", text).Msg("command received")
				if onCommand != nil {
					c.Notify(onCommand(text))
				}
				continue
			}

			if onSignal != nil {
				onSignal(text)
			}
		}
	}
}

func (c *Client) poll(ctx context.Context, offset int) ([]Update, error) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/getUpdates?offset=%d&timeout=60", c.token, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result updateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !result.Ok {
		return nil, fmt.Errorf("telegram API error: %s (code %d)", result.Description, result.ErrorCode)
	}
	return result.Result, nil
}
