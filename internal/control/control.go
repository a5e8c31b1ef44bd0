// Package control answers request/response calls from the application layer.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"notifrelay/internal/access"
	"notifrelay/internal/status"
	"notifrelay/internal/storage"
	logx "notifrelay/pkg/logx"
)

const (
	MethodIsNotificationAccessEnabled    = "isNotificationAccessEnabled"
	MethodOpenNotificationAccessSettings = "openNotificationAccessSettings"
	MethodGetStatus                      = "getStatus"
	MethodIsSubscriberAttached           = "isSubscriberAttached"
	MethodGetHistory                     = "getHistory"
)

// Error codes carried in Response.Error.
const (
	CodeNotImplemented = "notImplemented"
	CodeBadRequest     = "badRequest"
	CodeUnavailable    = "unavailable"
)

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrBadRequest     = errors.New("bad request")
)

// MaxHistoryLimit caps one history read; larger limits are clamped.
const MaxHistoryLimit = 50

const defaultHistoryLimit = MaxHistoryLimit

type Request struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Response carries either Result or Error. Result is always encoded, so a
// false answer stays distinguishable from a missing one.
type Response struct {
	Result any    `json:"result"`
	Error  *Error `json:"error,omitempty"`
}

type AccessChecker interface {
	Enabled() bool
}

type StatusRenderer interface {
	Render() status.Rendered
}

type Attachment interface {
	Attached() bool
}

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]storage.HistoryEntry, error)
}

// Deps are the collaborators behind each method. Nil entries make the
// matching method report CodeUnavailable, except Opener, which defaults to a
// no-op.
type Deps struct {
	Access  AccessChecker
	Opener  access.SettingsOpener
	Status  StatusRenderer
	Relay   Attachment
	History HistoryReader
}

type Dispatcher struct {
	deps Deps
	log  logx.Logger
}

func NewDispatcher(deps Deps, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Opener == nil {
		deps.Opener = access.NopOpener{}
	}
	return &Dispatcher{deps: deps, log: log}
}

// Handle runs one request. It never panics on unknown input.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodIsNotificationAccessEnabled:
		if d.deps.Access == nil {
			return Response{Result: false}
		}
		return Response{Result: d.deps.Access.Enabled()}

	case MethodOpenNotificationAccessSettings:
		if err := d.deps.Opener.Open(ctx); err != nil {
			d.log.Warn("open notification access settings failed", logx.Err(err))
		}
		return Response{Result: true}

	case MethodGetStatus:
		if d.deps.Status == nil {
			return unavailable(req.Method)
		}
		return Response{Result: d.deps.Status.Render()}

	case MethodIsSubscriberAttached:
		if d.deps.Relay == nil {
			return unavailable(req.Method)
		}
		return Response{Result: d.deps.Relay.Attached()}

	case MethodGetHistory:
		return d.history(ctx, req)

	default:
		return Response{Error: &Error{Code: CodeNotImplemented, Message: fmt.Sprintf("%s: %v", req.Method, ErrNotImplemented)}}
	}
}

func (d *Dispatcher) history(ctx context.Context, req Request) Response {
	if d.deps.History == nil {
		return unavailable(req.Method)
	}
	var args struct {
		Limit int `json:"limit"`
	}
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return Response{Error: &Error{Code: CodeBadRequest, Message: fmt.Sprintf("%v: %v", ErrBadRequest, err)}}
		}
	}
	if args.Limit <= 0 {
		args.Limit = defaultHistoryLimit
	}
	args.Limit = min(args.Limit, MaxHistoryLimit)
	entries, err := d.deps.History.Recent(ctx, args.Limit)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return unavailable(req.Method)
		}
		d.log.Warn("history query failed", logx.Err(err))
		return Response{Error: &Error{Code: CodeUnavailable, Message: err.Error()}}
	}
	if entries == nil {
		entries = []storage.HistoryEntry{}
	}
	return Response{Result: entries}
}

func unavailable(method string) Response {
	return Response{Error: &Error{Code: CodeUnavailable, Message: method + " is not configured"}}
}
