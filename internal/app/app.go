// Package app is the composition root: it builds every component from the
// config file, runs them under one supervisor and applies hot reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"notifrelay/internal/access"
	"notifrelay/internal/config"
	"notifrelay/internal/control"
	"notifrelay/internal/delivery"
	"notifrelay/internal/desktop"
	"notifrelay/internal/display"
	"notifrelay/internal/eventbus"
	"notifrelay/internal/history"
	"notifrelay/internal/host"
	"notifrelay/internal/relay"
	rtsup "notifrelay/internal/runtime/supervisor"
	"notifrelay/internal/sink"
	"notifrelay/internal/status"
	"notifrelay/internal/storage"
	"notifrelay/internal/telemetry"
	kit "notifrelay/internal/transport"
	"notifrelay/internal/transport/httpapi"
	telegram "notifrelay/internal/transport/telegram/adapter"
	"notifrelay/internal/transport/telegram/router"
	logx "notifrelay/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	access    *access.Checker
	grants    *access.MapStore // nil with a file store

	evMu     sync.Mutex
	evCounts map[string]uint64
	relay     *relay.Relay
	publisher *status.Publisher
	display   *display.Async
	host      *host.Service
	deliv     *delivery.Service
	hist      *history.Recorder
	control   *control.Dispatcher
	poller    *telemetry.Poller
	ingress   *httpapi.Service

	adapter *telegram.Adapter
	router  *router.Router
	updates chan kit.Update

	desktop  *desktop.Notifier
	closers  []io.Closer
	baseline bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New(), evCounts: map[string]uint64{}}
	if err := a.build(cfg, log); err != nil {
		a.closeAll()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	appID, listener, err := mapIdentity(cfg)
	if err != nil {
		return err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, comp("storage"))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	var store access.Store
	if p := strings.TrimSpace(cfg.Access.StorePath); p != "" {
		store = access.FileStore{Path: p}
	} else {
		a.grants = access.NewMapStore(map[string]string{access.Key: access.JoinListeners(cfg.Access.EnabledListeners)})
		store = a.grants
	}
	a.access = access.NewChecker(store, listener, comp("access"))
	var opener access.SettingsOpener = access.NopOpener{}
	if len(cfg.Access.SettingsCommand) > 0 {
		opener = access.CommandOpener{Argv: cfg.Access.SettingsCommand}
	}

	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, comp("telegram"))
		if err != nil {
			return err
		}
		a.adapter = ad
		a.updates = make(chan kit.Update, 64)
	}

	if cfg.Display.Desktop || cfg.Sinks.Desktop != nil {
		name := "notifrelay"
		if cfg.Sinks.Desktop != nil && cfg.Sinks.Desktop.AppName != "" {
			name = cfg.Sinks.Desktop.AppName
		}
		n, err := desktop.Dial(name)
		if err != nil {
			return err
		}
		a.desktop = n
	}

	a.relay = relay.New(relay.Config{OwnApp: appID}, a.access, comp("relay"), a.bus)
	a.publisher = status.NewPublisher(comp("status"), a.bus)

	displays := display.Multi{display.Log{Logger: comp("display")}}
	if cfg.Display.Systemd {
		displays = append(displays, display.NewSystemd())
	}
	if cfg.Display.Desktop {
		displays = append(displays, display.NewDesktop(a.desktop))
	}
	if t := cfg.Display.Telegram; t != nil {
		displays = append(displays, display.NewTelegram(a.adapter, kit.ChatTarget{ChatID: t.ChatID, ThreadID: t.ThreadID}))
	}
	a.display = display.NewAsync(displays, comp("display"))

	a.host = host.New(a.relay, a.publisher, a.display, comp("host"), a.bus)
	a.relay.SetRebinder(a.host)

	sinks, err := a.buildSinks(cfg)
	if err != nil {
		return err
	}
	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return err
	}
	a.deliv = delivery.New(dcfg, sinks, comp("delivery"), a.bus, a.store)
	a.baseline = attachDelivery(cfg) && len(sinks) > 0

	if a.store != nil {
		a.hist = history.NewRecorder(a.bus, a.store, comp("history"))
	}

	deps := control.Deps{Access: a.access, Opener: opener, Status: a.publisher, Relay: a.relay}
	if a.hist != nil {
		deps.History = a.hist
	}
	a.control = control.NewDispatcher(deps, comp("control"))

	if a.poller, err = a.buildPoller(cfg, comp("telemetry")); err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		hcfg, err := mapHTTPConfig(cfg)
		if err != nil {
			return err
		}
		hdeps := httpapi.Deps{
			Host:      a.host,
			Telemetry: a.publisher,
			Control:   a.control,
			Relay:     a.relay,
			Health:    a.Health,
		}
		if a.baseline {
			hdeps.Baseline = a.deliv
		}
		if a.hist != nil {
			hdeps.History = a.hist
		}
		a.ingress = httpapi.New(hcfg, hdeps, comp("http"))
	}

	if a.adapter != nil {
		a.router = router.New(a.adapter, a.control, cfg.Telegram.OwnerUserIDs, comp("router"))
	}
	return nil
}

func (a *App) buildSinks(cfg *config.Config) ([]delivery.Sink, error) {
	var out []delivery.Sink
	if w := cfg.Sinks.Webhook; w != nil {
		wc, err := mapWebhookConfig(w)
		if err != nil {
			return nil, err
		}
		s, err := sink.NewWebhook(wc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if m := cfg.Sinks.MQTT; m != nil {
		s, err := sink.NewMQTT(sink.MQTTConfig{
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Username: m.Username,
			Password: m.Password,
			Topic:    m.Topic,
			QoS:      m.QoS,
			Retained: m.Retained,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		out = append(out, s)
	}
	if r := cfg.Sinks.Redis; r != nil {
		s, err := sink.NewRedis(sink.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB, Stream: r.Stream, MaxLen: r.MaxLen})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		out = append(out, s)
	}
	if t := cfg.Sinks.Telegram; t != nil {
		out = append(out, sink.NewTelegram(a.adapter, kit.ChatTarget{ChatID: t.ChatID, ThreadID: t.ThreadID}))
	}
	if cfg.Sinks.Desktop != nil {
		out = append(out, sink.NewDesktop(a.desktop))
	}
	return out, nil
}

func (a *App) buildPoller(cfg *config.Config, log logx.Logger) (*telemetry.Poller, error) {
	t := cfg.Telemetry
	timeout, err := config.ParseDurationOrDefault("telemetry.timeout", t.Timeout, 3*time.Second)
	if err != nil {
		return nil, err
	}
	var src telemetry.Source
	switch strings.ToLower(strings.TrimSpace(t.Source)) {
	case "":
		return nil, nil
	case "remote":
		r, err := telemetry.NewRemote(t.RemoteURL, timeout)
		if err != nil {
			return nil, err
		}
		src = r
	case "local":
		src = telemetry.NewLocal(telemetry.FirstBattery{telemetry.UPower{}, telemetry.Sysfs{Root: t.SysfsRoot}}, log)
	default:
		return nil, fmt.Errorf("unknown telemetry.source: %s", t.Source)
	}
	return telemetry.NewPoller(src, a.publisher, t.Schedule, log)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Relay, Host and Publisher expose the core for embedding and tests.
func (a *App) Relay() *relay.Relay            { return a.relay }
func (a *App) Host() *host.Service            { return a.host }
func (a *App) Publisher() *status.Publisher   { return a.publisher }
func (a *App) Control() *control.Dispatcher   { return a.control }
func (a *App) Delivery() *delivery.Service    { return a.deliv }
func (a *App) Ingress() *httpapi.Service      { return a.ingress }
func (a *App) Bus() *eventbus.MemBus          { return a.bus }
func (a *App) ConfigManager() *config.Manager { return a.cfgm }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapIdentity(cfg); err != nil {
			return err
		}
		if _, err := mapDeliveryConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	a.sup.Go("display.async", a.display.Run)
	if a.hist != nil {
		a.sup.Go("history", a.hist.Run)
	}
	a.deliv.Start(c)
	if a.baseline {
		a.relay.Subscribe(a.deliv)
	}
	if a.poller != nil {
		a.sup.Go("telemetry.poll", a.poller.Run)
	}
	if a.ingress != nil {
		if err := a.ingress.Start(c); err != nil {
			return err
		}
	}
	if a.adapter != nil {
		if err := a.adapter.Start(c, a.updates); err != nil {
			return err
		}
		a.sup.Go("telegram.router", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.adapter.UpdateMenuCommands(mctx, a.router.Commands()); err != nil {
				a.log.Warn("telegram command menu update failed", logx.Err(err))
			}
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.countEvent(e)
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("http", a.ingress != nil),
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("telemetry", a.poller != nil),
		logx.Bool("storage", a.store != nil),
		logx.Bool("delivery_attached", a.baseline),
	)
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-c.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
		}
		// coalesce bursts
		for drained := false; !drained; {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				drained = true
			}
		}

		sections, attrs := config.SummarizeChange(lastApplied, newCfg)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}
		if restart := config.NeedsRestart(sections); len(restart) > 0 {
			a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(restart, ",")))
		}

		a.logs.Apply(mapLoggingConfig(newCfg))
		if a.grants != nil {
			a.grants.Set(access.Key, access.JoinListeners(newCfg.Access.EnabledListeners))
		}

		prevEnabled := a.deliv.Enabled()
		dcfg, err := mapDeliveryConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
		} else {
			a.deliv.Apply(dcfg)
			switch {
			case prevEnabled && !dcfg.Enabled:
				a.log.Info("delivery disabled via config")
				stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
				a.deliv.Stop(stopCtx)
				cancel()
			case !prevEnabled && dcfg.Enabled:
				a.log.Info("delivery enabled via config")
				a.deliv.Start(c)
			}
		}

		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}
}

// eventNamespaces are the bus namespaces counted for /healthz.
var eventNamespaces = []string{"relay", "delivery", "host", "status"}

func (a *App) countEvent(e eventbus.Event) {
	for _, ns := range eventNamespaces {
		if eventbus.HasPrefix(e, ns) {
			a.evMu.Lock()
			a.evCounts[ns]++
			a.evMu.Unlock()
			return
		}
	}
}

// Health is the /healthz payload.
func (a *App) Health() map[string]any {
	sups := map[string]rtsup.Snapshot{}
	if a.sup != nil {
		sups["app"] = a.sup.Snapshot()
	}
	if s := a.deliv.Supervisor(); s != nil {
		sups["delivery"] = s.Snapshot()
	}
	if a.adapter != nil {
		if s := a.adapter.Supervisor(); s != nil {
			sups["telegram"] = s.Snapshot()
		}
	}
	a.evMu.Lock()
	events := make(map[string]uint64, len(a.evCounts))
	for ns, n := range a.evCounts {
		events[ns] = n
	}
	a.evMu.Unlock()

	return map[string]any{
		"events":              events,
		"subscriber_attached": a.relay.Attached(),
		"listener_connected":  a.host.Connected(),
		"notification_access": a.access.Enabled(),
		"bus_subscribers":     a.bus.Subscribers(),
		"bus_dropped":         a.bus.Dropped(),
		"supervisors":         sups,
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeAll()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// intake first, so nothing new reaches the relay while it unwinds
	step("http", 3*time.Second, func(c context.Context) error {
		if a.ingress != nil {
			a.ingress.Stop(c)
		}
		return nil
	})
	step("telegram", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	step("relay", time.Second, func(context.Context) error {
		a.relay.UnsubscribeAny()
		a.host.OnListenerDisconnected()
		return nil
	})
	step("delivery", 3*time.Second, func(c context.Context) error { a.deliv.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.closeAll()
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", logx.Err(err))
		}
	}
	a.closers = nil
	if a.desktop != nil {
		_ = a.desktop.Close()
		a.desktop = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
}
