// Package telegram delivers relay alerts to trusted contacts and answers a
// small set of commands from those chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "empathai/internal/runtime/supervisor"
	logx "empathai/pkg/logx"
)

var ErrNoChats = errors.New("telegram: no contact chats configured")

type Config struct {
	Token       string
	PollTimeout time.Duration
	// ChatIDs are the trusted contacts that receive alerts and may use
	// commands.
	ChatIDs []int64
	// Commands enables long polling for /start and /status.
	Commands bool
	// Offline skips the getMe handshake.
	Offline bool
}

// StatusFunc renders the /status reply.
type StatusFunc func() string

type Bot struct {
	cfg    Config
	log    logx.Logger
	bot    *tele.Bot
	status StatusFunc

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, status StatusFunc, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Bot{cfg: cfg, log: log, bot: b, status: status}
	t.registerHandlers()
	return t, nil
}

// Allowed reports whether chatID is a configured contact.
func (t *Bot) Allowed(chatID int64) bool {
	return slices.Contains(t.cfg.ChatIDs, chatID)
}

func (t *Bot) registerHandlers() {
	t.bot.Handle("/start", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		if !t.Allowed(chat.ID) {
			// Lets the operator learn the id to put in the config.
			return c.Send(fmt.Sprintf("This chat is not a trusted contact. Chat id: %d", chat.ID))
		}
		return c.Send("You will receive EmpathAI alerts here 💜")
	})
	t.bot.Handle("/status", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil || !t.Allowed(chat.ID) {
			return nil
		}
		text := "ok"
		if t.status != nil {
			text = t.status()
		}
		return c.Send(text, &tele.SendOptions{DisableWebPagePreview: true})
	})
}

// Start begins long polling when commands are enabled.
func (t *Bot) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running || !t.cfg.Commands {
		return nil
	}
	t.running = true
	t.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(t.log.With(logx.String("comp", "telegram"))),
		rtsup.WithCancelOnError(false),
	)
	sup := t.sup

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		t.bot.Stop()
	})
	// bot.Start blocks until Stop; restart it if it returns early.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		t.log.Info("polling started")
		t.bot.Start()
		t.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (t *Bot) Stop(ctx context.Context) error {
	t.runMu.Lock()
	sup := t.sup
	t.sup = nil
	was := t.running
	t.running = false
	t.runMu.Unlock()
	if !was || sup == nil {
		return nil
	}
	sup.Cancel()
	go t.bot.Stop()

	// Never hold shutdown hostage to a pending getUpdates call.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

// SendAlert sends text to every contact chat. Failures are joined.
func (t *Bot) SendAlert(ctx context.Context, text string) error {
	if len(t.cfg.ChatIDs) == 0 {
		return ErrNoChats
	}
	var errs []error
	for _, id := range t.cfg.ChatIDs {
		if err := t.send(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Bot) send(ctx context.Context, chatID int64, text string) error {
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that do not leave tiny chunks.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
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
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
