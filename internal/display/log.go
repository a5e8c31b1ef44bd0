package display

import (
	"context"

	logx "notifrelay/pkg/logx"
)

// Log writes each descriptor as a structured log line.
type Log struct {
	Logger logx.Logger
}

func (l Log) Show(_ context.Context, id int, d Descriptor) error {
	l.Logger.Info(d.Title,
		logx.Int("id", id),
		logx.String("channel", d.Channel),
		logx.String("body", d.Body),
		logx.Bool("ongoing", d.Ongoing),
	)
	return nil
}
