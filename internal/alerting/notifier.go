package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/brolab-dev/x402-mcp/internal/storage"
)

// Notification describes one settlement outcome.
type Notification struct {
	Record      storage.SettlementRecord
	Description string
	Network     string
	Recipient   string
	Amount      string
	Total       int
}

// Notifier delivers settlement outcomes to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramOptions configure the Telegram notifier.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	channel string
	logger  zerolog.Logger
}

// NewTelegramNotifier authenticates the bot (getMe) and resolves the chat.
// ChatID may be numeric or a public @channel name.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) (*TelegramNotifier, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}

	n := &TelegramNotifier{
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}

	chat := strings.TrimSpace(opts.ChatID)
	if strings.HasPrefix(chat, "@") {
		n.channel = chat
	} else {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", opts.ChatID, err)
		}
		n.chatID = id
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, base+"/bot%s/%s", &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	n.bot = bot
	return n, nil
}

// Notify sends a plain-text summary of the settlement.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if n.channel != "" {
		msg = tgbotapi.NewMessageToChannel(n.channel, renderMessage(note))
	} else {
		msg = tgbotapi.NewMessage(n.chatID, renderMessage(note))
	}
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Info().
		Str("settlement_id", note.Record.ID).
		Str("status", note.Record.Status).
		Msg("settlement notification sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	rec := note.Record

	builder := strings.Builder{}
	builder.WriteString("[x402 Settlement]\n")
	builder.WriteString(fmt.Sprintf("Status: %s\n", strings.ToUpper(rec.Status)))
	builder.WriteString(fmt.Sprintf("Policy: %s\n", rec.PolicyID))
	if note.Description != "" {
		builder.WriteString(fmt.Sprintf("Rule: %s\n", note.Description))
	}
	builder.WriteString(fmt.Sprintf("Trigger value: %s\n", rec.TriggerValue.StringFixed(2)))
	if rec.MarketData != nil {
		builder.WriteString(fmt.Sprintf("Market: %s @ %s\n", rec.MarketData.Symbol, rec.MarketData.Price.String()))
	}
	if note.Network != "" {
		builder.WriteString(fmt.Sprintf("Network: %s\n", note.Network))
	}
	if note.Amount != "" {
		builder.WriteString(fmt.Sprintf("Amount: %s -> %s\n", note.Amount, note.Recipient))
	}
	if rec.TxHash != nil {
		builder.WriteString(fmt.Sprintf("Tx: %s\n", *rec.TxHash))
	}
	if rec.Error != nil {
		builder.WriteString(fmt.Sprintf("Error: %s\n", *rec.Error))
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", rec.Timestamp.UTC().Format(time.RFC3339)))
	if note.Total > 0 {
		builder.WriteString(fmt.Sprintf("Total settlements: %d", note.Total))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
