package access

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// SettingsOpener brings up the host surface where access is granted.
type SettingsOpener interface {
	Open(ctx context.Context) error
}

type NopOpener struct{}

func (NopOpener) Open(context.Context) error { return nil }

// CommandOpener runs a configured command, e.g. xdg-open on the settings
// file. It returns once the command started.
type CommandOpener struct {
	Argv []string
}

func (o CommandOpener) Open(_ context.Context) error {
	if len(o.Argv) == 0 {
		return errors.New("access: no settings command configured")
	}
	cmd := exec.Command(o.Argv[0], o.Argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("access: start %s: %w", o.Argv[0], err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
