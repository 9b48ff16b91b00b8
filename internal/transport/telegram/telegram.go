// Package telegram delivers fired notifications to Telegram chats.
//
// The sink is send-only: it never polls for updates, so several processes can
// share one bot token.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "pookie/internal/transport"
	logx "pookie/pkg/logx"
	"pookie/pkg/tgui"
)

type Config struct {
	Token    string
	ChatIDs  []int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (self-hosted bot API server).
	APIURL  string
	Timeout time.Duration
	// Offline skips the getMe call at construction.
	Offline bool
}

// sender is the subset of *tele.Bot used by the sink.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Sink struct {
	cfg Config
	log logx.Logger
	bot sender
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, errors.New("telegram chat_ids is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: cfg.Offline,
		Client:  newHTTPClient(timeout),
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sink) Name() string { return "telegram" }

// Send delivers m to every configured chat. Chats are tried independently;
// failures are joined.
func (s *Sink) Send(ctx context.Context, m kit.Message) error {
	text := formatHTML(m)
	if text == "" {
		return nil
	}
	chunks := splitTelegramText(text, telegramTextLimit, tele.ModeHTML)

	var errs []error
	for _, chatID := range s.cfg.ChatIDs {
		if err := s.sendChunks(ctx, chatID, chunks); err != nil {
			s.log.Debug("telegram send failed", logx.Int64("chat_id", chatID), logx.Err(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) sendChunks(ctx context.Context, chatID int64, chunks []string) error {
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(tele.ChatID(chatID), chunk, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func formatHTML(m kit.Message) string {
	title := strings.TrimSpace(m.Title)
	body := strings.TrimSpace(m.Body)
	if title == "" && body == "" {
		return ""
	}
	var head tgui.H
	if title != "" {
		head = tgui.B(tgui.TruncRunes(title, tgui.MaxTitleRunes))
	}
	text := tgui.JoinH("\n", head, tgui.Esc(body))
	if m.Priority >= 7 {
		text = tgui.Raw("❗ ") + text
	}
	return text.String()
}

// telegramTextLimit leaves headroom under tgui.MaxMessageLen for entities.
const telegramTextLimit = tgui.MaxMessageLen - 96

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, in HTML mode, avoids cutting inside a
// tag or an entity.
func splitTelegramText(s string, limit int, parseMode tele.ParseMode) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if parseMode == tele.ModeHTML && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
			// Same for escaped entities such as &amp;.
			for i := end - 1; i > start; i-- {
				if rs[i] == ';' {
					break
				}
				if rs[i] == '&' {
					end = i
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
