package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/app"
	cfgpkg "github.com/badgecmd/badgebus/internal/config"
	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/logging"
	"github.com/badgecmd/badgebus/internal/script"
)

var errScriptFailed = errors.New("script had failing steps")

// runScript 打开链路，等待接通后按脚本逐步下发
func runScript(args []string, e env) error {
	fs := newFlagSet("run", e)
	configPath := addServiceFlags(fs)
	wait := fs.Duration("wait", 10*time.Second, "how long to wait for the link to come up")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	trace := fs.BoolP("trace", "t", false, "print every frame on the link")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErr(fs, e.stderr, "expected exactly one script file")
	}

	s, err := script.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	cfg, err := cfgpkg.Load(*configPath, fs)
	if err != nil {
		return err
	}
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := app.NewBus(cfg.Link, nil, logger)
	if *trace {
		bus.Subscribe(func(ev link.Event) {
			arrow := "->"
			if ev.Dir == link.DirRx {
				arrow = "<-"
			}
			fmt.Fprintf(e.stderr, "%s %s\n", arrow, ev.Frame)
		})
	}

	busErr := make(chan error, 1)
	go func() { busErr <- bus.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-busErr; err != nil {
			logger.Warn("link stopped with error", zap.Error(err))
		}
	}()

	wctx, wcancel := context.WithTimeout(ctx, *wait)
	err = app.WaitLink(wctx, bus)
	wcancel()
	if err != nil {
		return fmt.Errorf("link not available after %s: %w", *wait, err)
	}

	runner := script.NewRunner(bus, logger)
	if !*asJSON {
		runner.OnResult = func(r script.Result) {
			status := "ok"
			if r.Error != "" {
				status = "FAIL " + r.Error
			}
			fmt.Fprintf(e.stdout, "%-16s #%d %s", r.Step, r.Attempt, r.Sent)
			if r.Reply != "" {
				fmt.Fprintf(e.stdout, " => %s", r.Reply)
			}
			fmt.Fprintf(e.stdout, " %s (%s)\n", status, r.Duration.Round(time.Millisecond))
		}
	}

	rep, runErr := runner.Run(ctx, s)
	if *asJSON {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(e.stdout, "%s: %d passed, %d failed\n", rep.Script, rep.Passed, rep.Failed)
	}

	if runErr != nil {
		return runErr
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%w: %d", errScriptFailed, rep.Failed)
	}
	return nil
}
