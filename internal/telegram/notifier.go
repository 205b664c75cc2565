package telegram

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"jobmail/internal/retry"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

var ErrNoChat = errors.New("telegram: ADMIN_CHAT_ID is not set")

// Notifier delivers reports to the admin chat.
type Notifier struct {
	s      sender
	chatID int64
	policy retry.Policy
	logger *zap.Logger
}

func New(botToken string, chatID int64, logger *zap.Logger) (*Notifier, error) {
	if chatID == 0 {
		return nil, ErrNoChat
	}
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newNotifier(botAPISender{api: api}, chatID, logger), nil
}

func newNotifier(s sender, chatID int64, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{s: s, chatID: chatID, policy: retry.DefaultPolicy(logger), logger: logger}
}

// Notify sends text, split into several messages when it is too long.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	for _, part := range split(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		err := retry.Do(ctx, n.policy, "telegram.send", func(context.Context) error {
			_, err := n.s.Send(msg)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	n.logger.Debug("report delivered", zap.Int64("chat_id", n.chatID))
	return nil
}

// split cuts s into chunks of at most limit bytes, preferring line breaks.
func split(s string, limit int) []string {
	var parts []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		for i := cut - 1; i > limit/2; i-- {
			if s[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
