package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"exam-grader/api/internal/grading"
)

// MaxMessageRunes is Telegram's limit for one text message.
const MaxMessageRunes = 4096

// Notifier posts finished grading reports into one chat.
type Notifier struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64
	logger *slog.Logger
}

func NewNotifier(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newNotifier(bot, chatID, logger), nil
}

// NewNotifierWithEndpoint targets a custom Bot API server; endpoint uses the
// tgbotapi format, e.g. "https://host/bot%s/%s".
func NewNotifierWithEndpoint(token, endpoint string, client tgbotapi.HTTPClient, chatID int64, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newNotifier(bot, chatID, logger), nil
}

func newNotifier(bot *tgbotapi.BotAPI, chatID int64, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	bot.Debug = false
	return &Notifier{Bot: bot, ChatID: chatID, logger: logger}
}

func (n *Notifier) Name() string { return "telegram" }

func (n *Notifier) Deliver(ctx context.Context, res grading.Result) error {
	header := "📊 Grading report"
	if res.Scorecard != nil {
		header += ": " + res.Scorecard.Summary()
	}
	if res.Cached {
		header += " (cached)"
	}
	chunks := SplitMessage(header+"\n\n"+res.Report, MaxMessageRunes)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.Bot.Send(tgbotapi.NewMessage(n.ChatID, chunk)); err != nil {
			return fmt.Errorf("telegram: send part %d/%d: %w", i+1, len(chunks), err)
		}
	}
	n.logger.Info("telegram.sent", slog.Int64("chat_id", n.ChatID), slog.Int("parts", len(chunks)))
	return nil
}

// SplitMessage cuts text into chunks of at most limit runes, preferring line
// breaks as cut points.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var out []string
	rest := []rune(text)
	for len(rest) > limit {
		cut := limit
		if i := lastIndexRune(rest[:limit], '\n'); i > 0 {
			cut = i + 1
		}
		out = append(out, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = rest[cut:]
	}
	if tail := strings.TrimRight(string(rest), "\n"); tail != "" {
		out = append(out, tail)
	}
	return out
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
