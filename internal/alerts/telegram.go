// Package alerts delivers trade signal notifications to external channels.
package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/Leblepito/uAlgoTrade/internal/agents"
	"github.com/Leblepito/uAlgoTrade/internal/config"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// TelegramNotifier sends approved-signal alerts to a Telegram chat. When the
// bot token or chat ID is unset the notifier is silently disabled.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier creates a notifier from configuration. Returns a
// disabled notifier (nil bot) when not configured.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		log.Debug().Msg("Telegram not configured, alerts disabled")
		return &TelegramNotifier{}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram bot init failed, alerts disabled")
		return &TelegramNotifier{}
	}

	log.Info().Str("bot", bot.Self.UserName).Msg("Telegram alerts enabled")
	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID}
}

// NotifySignal formats and sends a trading signal alert.
func (n *TelegramNotifier) NotifySignal(ctx context.Context, result *agents.CycleResult) {
	if n.bot == nil {
		return
	}

	emoji := "🔴"
	if result.Direction == models.DirectionLong {
		emoji = "🟢"
	}

	text := fmt.Sprintf(
		"%s <b>New Signal: %s</b>\n"+
			"Direction: %s\n"+
			"Confidence: %.1f%%\n"+
			"Entry: %s\n"+
			"Stop Loss: %s\n"+
			"Take Profit: %s\n"+
			"R:R: %s",
		emoji, result.Symbol, result.Direction, result.Confidence*100,
		fmtPrice(result.EntryPrice), fmtPrice(result.StopLoss),
		fmtPrice(result.TakeProfit), fmtRatio(result.RiskReward),
	)

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		log.Error().Err(err).Str("symbol", result.Symbol).Msg("Telegram alert failed")
		return
	}
	log.Info().Str("symbol", result.Symbol).Msg("Telegram alert sent")
}

func fmtPrice(p *float64) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.8f", *p)
}

func fmtRatio(r *float64) string {
	if r == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *r)
}
