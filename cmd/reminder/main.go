// Package main is the entry point for the reminder job. By default it runs a
// single tick, suitable for a cron schedule; -loop keeps it running.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onnwee/esign/internal/app"
	"github.com/onnwee/esign/internal/config"
	"github.com/onnwee/esign/internal/middleware"
	"github.com/onnwee/esign/internal/reminder"
)

const serviceName = "esign-reminder"

// errTickFailed reports a tick that completed with per-request failures.
var errTickFailed = errors.New("reminder tick had failures")

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file")
	loop := flag.Bool("loop", false, "run ticks every REMINDER_TICK_SECONDS until interrupted")
	flag.Parse()

	if *help {
		fmt.Println("E-Signature Reminder Job")
		fmt.Println()
		fmt.Println("Usage: reminder [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil {
		slog.Error("failed to load configuration", "errors", errs)
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env).With("job", "reminder")
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *loop); err != nil {
		logger.Error("reminder job failed", "error", err)
		os.Exit(1)
	}
}

// run executes one tick, or with loop ticks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, loop bool) (err error) {
	services, err := app.New(ctx, cfg, logger, app.Options{ServiceName: serviceName})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := services.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if services.DB == nil {
		logger.Warn("running against in-memory stores; no reminders will be found")
	}

	schedulerCfg := reminder.Config{
		Interval:   cfg.ReminderTick(),
		Logger:     logger,
		JobMetrics: services.JobMetrics,
	}
	if services.Outbox != nil {
		schedulerCfg.Outbox = services.Outbox
	}
	scheduler := reminder.NewScheduler(schedulerCfg, services.Engine)

	if !loop {
		res, err := scheduler.Tick(ctx, time.Now())
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%w: %d of %d requests", errTickFailed, res.Failed, res.Due)
		}
		return nil
	}

	if cfg.ReminderTickSeconds <= 0 {
		return errors.New("-loop requires REMINDER_TICK_SECONDS > 0")
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	logger.Info("reminder loop started", "interval", cfg.ReminderTick())
	<-ctx.Done()
	scheduler.Stop()
	logger.Info("reminder loop stopped")
	return nil
}
