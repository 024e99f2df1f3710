package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"dashpulse/internal/domain"
	logx "dashpulse/pkg/logx"
	"dashpulse/pkg/tgui"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint.
	APIURL     string
	RatePerSec int
}

// Telegram renders review requests as HTML messages and sends them with
// the bot directly. It doubles as the log alert sender.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
	tid  int
	lim  *rate.Limiter
	log  logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: telegram token is empty", domain.ErrConfiguration)
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("%w: telegram chat_id is required", domain.ErrConfiguration)
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if cfg.RatePerSec <= 0 {
		// Bot API limit for one chat.
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		tid:  cfg.ThreadID,
		lim:  newLimiter(cfg.RatePerSec),
		log:  log,
	}, nil
}

// Notify sends one message per dashboard. A retry resends the whole batch,
// so leading messages may arrive twice.
func (t *Telegram) Notify(ctx context.Context, batch NotificationBatch) error {
	var errs []error
	for _, it := range batch.Dashboards {
		if err := t.send(ctx, RenderItem(it), tele.ModeHTML); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.EventUUID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrTransient, errors.Join(errs...))
	}
	return nil
}

// SendAlert implements logx.AlertSender.
func (t *Telegram) SendAlert(ctx context.Context, text string) error {
	return t.send(ctx, text, tele.ModeDefault)
}

func (t *Telegram) send(ctx context.Context, text string, mode tele.ParseMode) error {
	if err := wait(ctx, t.lim); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		ParseMode:             mode,
		ThreadID:              t.tid,
		DisableWebPagePreview: true,
	})
	return err
}

// RenderItem formats a review request as Telegram HTML.
func RenderItem(it NotificationItem) string {
	parts := []tgui.H{tgui.B(it.Name)}
	if d := strings.TrimSpace(it.Description); d != "" {
		parts = append(parts, tgui.MarkdownV2ToHTML(d))
	}
	if it.TimeForCheck > 0 {
		parts = append(parts, tgui.I(fmt.Sprintf("time for check: %s", time.Duration(it.TimeForCheck)*time.Minute)))
	}
	link := it.FakeURL
	if link == "" {
		link = it.RealURL
	}
	parts = append(parts, tgui.Link("open dashboard", link))
	return tgui.JoinH("\n", parts...).String()
}
