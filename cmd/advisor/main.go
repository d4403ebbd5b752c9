// Command advisor runs the headless economy steward. It observes the
// session, decides deterministically, and acts via the action API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucylow/quaternion/internal/advisor"
	"github.com/lucylow/quaternion/internal/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAdvisor()
	if err != nil {
		config.Exitf("config: %v", err)
	}
	if cfg.Interval <= 0 {
		config.Exitf("ADVISOR_INTERVAL must be positive, got %s", cfg.Interval)
	}

	policy := advisor.DefaultPolicy()
	policy.MaxInstability = cfg.MaxInstability

	a := advisor.New(cfg.APIURL, policy)
	a.DryRun = cfg.DryRun

	slog.Info("Quaternion advisor starting",
		"api_url", cfg.APIURL,
		"interval", cfg.Interval,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wait for the economy API to be ready before the first cycle.
	slog.Info("waiting for economy API...")
	if !waitForAPI(ctx, a.Observer) {
		return
	}

	runCycle(ctx, a)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle(ctx, a)
		case <-ctx.Done():
			slog.Info("shutting down")
			fmt.Println("Advisor stopped.")
			return
		}
	}
}

func runCycle(ctx context.Context, a *advisor.Advisor) {
	rep, err := a.RunCycle(ctx)
	if err != nil {
		slog.Error("advisor cycle failed", "error", err)
		return
	}
	slog.Info("advisor cycle complete",
		"tick", rep.Tick,
		"planned", len(rep.Planned),
		"succeeded", rep.Succeeded,
		"rejected", rep.Rejected,
	)
}

// waitForAPI polls until the API answers or ctx ends.
func waitForAPI(ctx context.Context, o *advisor.Observer) bool {
	for attempt := 1; ; attempt++ {
		if o.Ready(ctx) {
			slog.Info("economy API is ready")
			return true
		}
		if attempt%10 == 0 {
			slog.Warn("economy API still not ready", "attempts", attempt)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(3 * time.Second):
		}
	}
}
