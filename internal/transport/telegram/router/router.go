// Package router answers chat commands by calling the control dispatcher.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"notifrelay/internal/control"
	"notifrelay/internal/status"
	"notifrelay/internal/storage"
	kit "notifrelay/internal/transport"
	logx "notifrelay/pkg/logx"
)

// Dispatcher is the control channel.
type Dispatcher interface {
	Handle(ctx context.Context, req control.Request) control.Response
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
}

type Command struct {
	Name        string
	Description string
	Handle      HandlerFunc
}

// Router reads updates and replies in the chat they came from. Only owners
// may run commands; other senders are ignored.
type Router struct {
	adapter kit.Adapter
	control Dispatcher
	owners  []int64
	log     logx.Logger
	timeout time.Duration

	cmds map[string]Command
}

func New(adapter kit.Adapter, ctl Dispatcher, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		adapter: adapter,
		control: ctl,
		owners:  append([]int64(nil), owners...),
		log:     log,
		timeout: 10 * time.Second,
		cmds:    map[string]Command{},
	}
	r.register(Command{Name: "status", Description: "current laptop status", Handle: r.cmdStatus})
	r.register(Command{Name: "access", Description: "notification access state", Handle: r.cmdAccess})
	r.register(Command{Name: "attached", Description: "is an event subscriber attached", Handle: r.cmdAttached})
	r.register(Command{Name: "history", Description: "recent notifications: /history [n]", Handle: r.cmdHistory})
	r.register(Command{Name: "help", Description: "list commands", Handle: r.cmdHelp})
	return r
}

func (r *Router) register(c Command) {
	c.Handle = Chain(c.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(r.timeout))
	r.cmds[c.Name] = c
}

// Commands returns the menu entries, sorted by name.
func (r *Router) Commands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Run consumes updates until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-in:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, up)
		}
	}
}

// Dispatch handles one update synchronously.
func (r *Router) Dispatch(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message
	name, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	if !slices.Contains(r.owners, m.FromID) {
		r.log.Debug("command from non-owner ignored", logx.Int64("from_id", m.FromID), logx.String("cmd", name))
		return
	}
	cmd, ok := r.cmds[name]
	if !ok {
		return
	}
	req := &Request{Chat: kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, FromID: m.FromID, Command: name, Args: args}
	reply, err := cmd.Handle(ctx, req)
	if err != nil {
		reply = "error: " + err.Error()
	}
	if reply == "" {
		return
	}
	if _, err := r.adapter.SendText(ctx, req.Chat, reply, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.String("cmd", name), logx.Err(err))
	}
}

// parseCommand splits "/status@mybot arg" into ("status", ["arg"]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func (r *Router) call(ctx context.Context, method string, args any) (any, error) {
	req := control.Request{Method: method}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		req.Args = b
	}
	resp := r.control.Handle(ctx, req)
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (r *Router) cmdStatus(ctx context.Context, _ *Request) (string, error) {
	res, err := r.call(ctx, control.MethodGetStatus, nil)
	if err != nil {
		return "", err
	}
	rendered, ok := res.(status.Rendered)
	if !ok {
		return "", fmt.Errorf("unexpected status result %T", res)
	}
	return rendered.Title + "\n" + rendered.Expanded, nil
}

func (r *Router) cmdAccess(ctx context.Context, _ *Request) (string, error) {
	res, err := r.call(ctx, control.MethodIsNotificationAccessEnabled, nil)
	if err != nil {
		return "", err
	}
	if res == true {
		return "notification access: granted", nil
	}
	return "notification access: not granted", nil
}

func (r *Router) cmdAttached(ctx context.Context, _ *Request) (string, error) {
	res, err := r.call(ctx, control.MethodIsSubscriberAttached, nil)
	if err != nil {
		return "", err
	}
	if res == true {
		return "subscriber: attached", nil
	}
	return "subscriber: none", nil
}

func (r *Router) cmdHistory(ctx context.Context, req *Request) (string, error) {
	limit := 10
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return "usage: /history [n]", nil
		}
		limit = min(n, control.MaxHistoryLimit)
	}
	res, err := r.call(ctx, control.MethodGetHistory, map[string]int{"limit": limit})
	if err != nil {
		return "", err
	}
	entries, _ := res.([]storage.HistoryEntry)
	if len(entries) == 0 {
		return "no history", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s [%s] %s", e.At.Local().Format("15:04:05"), e.SourceApp, e.Outcome, e.Title)
		if e.Body != "" {
			b.WriteString(": ")
			b.WriteString(e.Body)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) cmdHelp(_ context.Context, _ *Request) (string, error) {
	var b strings.Builder
	for _, c := range r.Commands() {
		fmt.Fprintf(&b, "/%s - %s\n", c.Command, c.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
