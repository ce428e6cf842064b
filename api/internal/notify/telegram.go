// Package notify pushes a short completion summary to an admin Telegram
// chat. Delivery is best-effort; a failed notification never fails the run.
package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mari-ask/api/internal/analyze"
)

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	if log == nil {
		log = zap.NewNop()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, log: log.Named("notify")}, nil
}

// AnalysisCompleted sends one message per finished analysis.
func (t *Telegram) AnalysisCompleted(dogName string, concerns []string, res *analyze.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "🐶 분석 완료: %s\n", dogName)
	if len(concerns) > 0 {
		fmt.Fprintf(&b, "문제 행동: %s\n", strings.Join(concerns, ", "))
	}
	fmt.Fprintf(&b, "신뢰도: %.2f\n", res.ConfidenceScore)
	if res.Flags.VisionFallbackUsed {
		b.WriteString("⚠️ vision fallback\n")
	}
	if res.Flags.ExpertMockUsed {
		b.WriteString("⚠️ expert mock\n")
	}
	if res.Flags.MariTemplateUsed {
		b.WriteString("⚠️ mari template\n")
	}

	msg := tgbotapi.NewMessage(t.chatID, b.String())
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Warn("telegram notify failed", zap.Error(err))
	}
}
