package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "notifrelay/pkg/logx"
)

// DefaultSchedule is used when no schedule is configured.
const DefaultSchedule = "@every 5s"

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Poller reads a source on a cron schedule and hands snapshots to a target.
type Poller struct {
	src      Source
	target   Target
	schedule cron.Schedule
	spec     string
	timeout  time.Duration
	log      logx.Logger
}

func NewPoller(src Source, target Target, spec string, log logx.Logger) (*Poller, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("telemetry: schedule %q: %w", spec, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{src: src, target: target, schedule: sched, spec: spec, timeout: 4 * time.Second, log: log}, nil
}

// Run polls once right away, then on schedule, until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{p.log})),
	)
	c.Schedule(p.schedule, cron.FuncJob(func() { p.Poll(ctx) }))

	p.Poll(ctx)
	c.Start()
	p.log.Info("telemetry polling started", logx.String("schedule", p.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Poll does one read.
func (p *Poller) Poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	snap, err := p.src.Read(rctx)
	if err != nil {
		p.log.Warn("telemetry read failed", logx.Err(err))
		return
	}
	p.target.Set(snap)
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
