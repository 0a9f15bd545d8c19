// Package notify sends dispatch run summaries to operators over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go/v5"
	tele "gopkg.in/telebot.v4"

	"groupcast/internal/dispatch"
	"groupcast/pkg/logx"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

type Config struct {
	Token  string
	ChatID int64
	Owners []int64
	Silent bool

	// Offline skips the getMe handshake in NewBot.
	Offline bool
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram implements dispatch.Notifier.
type Telegram struct {
	cfg      Config
	bot      sender
	log      logx.Logger
	attempts uint
	delay    time.Duration
}

func New(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: cfg.Offline})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newWithSender(cfg, b, log), nil
}

func newWithSender(cfg Config, s sender, log logx.Logger) *Telegram {
	return &Telegram{cfg: cfg, bot: s, log: log, attempts: 3, delay: 500 * time.Millisecond}
}

// RunFinished sends the summary to the chat and to each owner. A failed
// recipient does not stop the others.
func (t *Telegram) RunFinished(ctx context.Context, s dispatch.Snapshot) error {
	text := Summary(s)
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		DisableNotification:   t.cfg.Silent,
	}

	var errs []error
	for _, id := range t.recipients() {
		err := retry.New(
			retry.Attempts(t.attempts),
			retry.Delay(t.delay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		).Do(func() error {
			_, err := t.bot.Send(tele.ChatID(id), text, opts)
			return err
		})
		if err != nil {
			t.log.Warn("run summary not sent", logx.Int64("chat_id", id), logx.String("run_id", s.ID), logx.Err(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) recipients() []int64 {
	out := []int64{t.cfg.ChatID}
	for _, id := range t.cfg.Owners {
		if id != 0 && id != t.cfg.ChatID {
			out = append(out, id)
		}
	}
	return out
}

// Summary renders a run as Telegram HTML.
func Summary(s dispatch.Snapshot) string {
	var b strings.Builder
	ok := s.Succeeded()
	failed := len(s.Outcomes) - ok

	title := "Dispatch finished"
	if s.Status == dispatch.StatusAbandoned {
		title = "Dispatch abandoned"
	}
	fmt.Fprintf(&b, "<b>%s</b>\n", title)
	fmt.Fprintf(&b, "Run: <code>%s</code>\n", html.EscapeString(s.ID))
	fmt.Fprintf(&b, "Posted: %d/%d", ok, s.Total)
	if failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", failed)
	}
	if skipped := s.Total - len(s.Outcomes); skipped > 0 {
		fmt.Fprintf(&b, ", %d not attempted", skipped)
	}
	if !s.DoneAt.IsZero() && !s.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\nTook: %s", s.DoneAt.Sub(s.CreatedAt).Round(time.Second))
	}

	if failed > 0 {
		b.WriteString("\n\n<b>Failures</b>")
		for _, o := range s.Outcomes {
			if o.Success {
				continue
			}
			name := o.Name
			if name == "" {
				name = o.ID
			}
			fmt.Fprintf(&b, "\n• %s: %s", html.EscapeString(truncRunes(name, 60)), html.EscapeString(truncRunes(o.Error, 200)))
		}
	}
	return clip(b.String(), maxMessageRunes)
}

// truncRunes cuts s to n runes, marking the cut with an ellipsis.
func truncRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// clip cuts at the last full line that fits, so no HTML tag is split.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	const more = "\n…"
	r := []rune(s)[:n-utf8.RuneCountInString(more)]
	cut := string(r)
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	return cut + more
}
