// Package adapter connects the relay to a Telegram bot over long polling.
package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "notifrelay/internal/runtime/supervisor"
	kit "notifrelay/internal/transport"
	logx "notifrelay/pkg/logx"
)

// messageLimit stays under Telegram's 4096 character cap.
const messageLimit = 4000

// Config configures the bot connection.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter owns the bot. Inbound text messages become kit.Updates on the
// channel passed to Start; outbound text goes through SendText and EditText.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update
	sup *rtsup.Supervisor

	dropped  atomic.Uint64
	dropWarn *rate.Limiter

	menuMu   sync.Mutex
	menuHash uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: poll},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: b, dropWarn: rate.NewLimiter(rate.Every(5*time.Second), 1)}
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

// Supervisor returns the polling supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return nil
	}

	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}}
	select {
	case out <- up:
	default:
		n := a.dropped.Add(1)
		if a.dropWarn.Allow() {
			a.log.Warn("inbound telegram messages dropped", logx.Uint64("total", n), logx.Int("chan_cap", cap(out)))
		}
	}
	return nil
}

// Start begins long polling. Calling it while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted
	a.sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("telegram polling started")
		a.bot.Start()
		return c.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop never fails: a long poll still waiting on Telegram is abandoned after
// a short grace period.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram stop timed out")
	}
	a.log.Info("telegram stopped", logx.Uint64("dropped", a.dropped.Load()))
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parts := splitTelegramText(text, messageLimit, parseMode(opt))
	id, err := a.sendParts(ctx, to, parts, opt)
	if id == 0 {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, err
}

// EditText replaces the text of ref. Overflow beyond one message is sent as
// follow-up messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	parts := splitTelegramText(text, messageLimit, parseMode(opt))
	msg := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(msg, parts[0], sendOptions(opt, 0)); err != nil {
		return err
	}
	_, err := a.sendParts(ctx, kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, parts[1:], opt)
	return err
}

// sendParts sends each part in order and returns the id of the first
// message delivered.
func (a *Adapter) sendParts(ctx context.Context, to kit.ChatTarget, parts []string, opt *kit.SendOptions) (int, error) {
	chat := &tele.Chat{ID: to.ChatID}
	first := 0
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, p, sendOptions(opt, to.ThreadID))
		if err != nil {
			return first, err
		}
		if first == 0 {
			first = msg.ID
		}
	}
	return first, nil
}

func parseMode(opt *kit.SendOptions) string {
	if opt == nil {
		return ""
	}
	return opt.ParseMode
}

func sendOptions(opt *kit.SendOptions, thread int) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: thread}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	return so
}

// splitTelegramText cuts s into parts of at most limit runes, preferring a
// newline in the last two thirds of each window. In HTML mode a cut never
// lands inside a tag. It always returns at least one part.
func splitTelegramText(s string, limit int, mode string) []string {
	if limit <= 0 {
		limit = messageLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(mode, tele.ModeHTML)

	var parts []string
	for len(rs) > 0 {
		end := len(rs)
		if end > limit {
			end = limit
			for i := end - 1; i >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			if html {
				if open := danglingTag(rs[:end]); open > 0 {
					end = open
				}
			}
		}
		parts = append(parts, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return parts
}

// danglingTag returns the index of a '<' in rs with no closing '>', or -1.
func danglingTag(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		switch rs[i] {
		case '>':
			return -1
		case '<':
			return i
		}
	}
	return -1
}

// UpdateMenuCommands sets the bot's command menu, skipping the call when the
// list is unchanged since the last success.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, len(cmds))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("telegram command menu updated", logx.Int("count", len(menu)))
	return nil
}
