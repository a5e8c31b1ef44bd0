package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"notifrelay/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	sdNotify := a.ConfigManager().Get().Systemd.Notify

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	if sdNotify {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	if sdNotify {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	err = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", a.Err())
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
}
