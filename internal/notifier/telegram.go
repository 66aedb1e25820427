// Package notifier formats alerts and delivers them to Telegram.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	tb "gopkg.in/tucnak/telebot.v2"

	"liqwatch/config"
	"liqwatch/logger"
)

// ErrSendFailed wraps every delivery error.
var ErrSendFailed = errors.New("telegram send failed")

// Notifier delivers a message to the configured destination.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Telegram sends through the Bot API sendMessage method. Outbound calls
// share one rate limiter so bursts of alerts stay under Telegram's limits.
type Telegram struct {
	client    *tb.Bot
	chatID    int64
	threadID  int64
	parseMode string
	limiter   *rate.Limiter
	log       *logger.Log
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	settings := tb.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.APIURL != "" {
		settings.URL = cfg.APIURL
	}

	client, err := tb.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Telegram{
		client:    client,
		chatID:    cfg.ChatID,
		threadID:  cfg.ThreadID,
		parseMode: cfg.ParseMode,
		limiter:   rate.NewLimiter(limit, burst),
		log:       logger.GetLogger(),
	}, nil
}

// Notify sends msg to the configured chat and thread.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	return t.send(ctx, t.chatID, t.threadID, msg)
}

// Reply sends msg to an arbitrary chat, used for command responses.
func (t *Telegram) Reply(ctx context.Context, chatID, threadID int64, msg Message) error {
	return t.send(ctx, chatID, threadID, msg)
}

func (t *Telegram) send(ctx context.Context, chatID, threadID int64, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrSendFailed, err)
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    msg.Text,
	}
	if threadID != 0 {
		payload["message_thread_id"] = threadID
	}
	mode := msg.ParseMode
	if mode == "" {
		mode = t.parseMode
	}
	if mode != "" {
		payload["parse_mode"] = mode
	}

	start := time.Now()
	data, err := t.client.Raw("sendMessage", payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrSendFailed, err)
	}
	if !resp.OK {
		return fmt.Errorf("%w: %d %s", ErrSendFailed, resp.ErrorCode, resp.Description)
	}

	logger.LogPerformanceEntry(t.log.WithFields(logger.Fields{"chat_id": chatID}), "telegram_notifier", "sendMessage", time.Since(start), nil)
	return nil
}
