package display

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Systemd publishes the status line as the unit's STATUS= text, which
// `systemctl status` shows and overwrites in place.
type Systemd struct {
	// notify defaults to daemon.SdNotify; tests replace it.
	notify func(unsetEnv bool, state string) (bool, error)
}

func NewSystemd() *Systemd { return &Systemd{notify: daemon.SdNotify} }

func (s *Systemd) Show(_ context.Context, _ int, d Descriptor) error {
	line := d.Title
	if d.Body != "" {
		line += " | " + d.Body
	}
	// sd_notify is newline-delimited.
	line = strings.ReplaceAll(line, "\n", " ")
	_, err := s.notify(false, "STATUS="+line)
	return err
}

func (s *Systemd) Close(_ context.Context, _ int) error {
	_, err := s.notify(false, "STATUS=")
	return err
}
