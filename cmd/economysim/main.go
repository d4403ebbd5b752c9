// Command economysim runs a Quaternion economy session behind the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lucylow/quaternion/internal/api"
	"github.com/lucylow/quaternion/internal/config"
	"github.com/lucylow/quaternion/internal/engine"
	"github.com/lucylow/quaternion/internal/entropy"
	"github.com/lucylow/quaternion/internal/metrics"
	"github.com/lucylow/quaternion/internal/narrator"
	"github.com/lucylow/quaternion/internal/persistence"
	"github.com/lucylow/quaternion/internal/world"
)

const (
	metaSeed       = "seed"
	metaRadius     = "territory_radius"
	metaLastExpand = "territory_last_expand"
)

func main() {
	srv, err := config.LoadServer()
	if err != nil {
		config.Exitf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(srv.LogLevel),
	}))
	slog.SetDefault(logger)

	tuning, err := config.LoadTuning(srv.TuningPath)
	if err != nil {
		config.Exitf("tuning: %v", err)
	}
	slog.Info("Quaternion economy server starting", "tuning", srv.TuningPath, "interval", srv.TickInterval)

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(srv.DBPath), 0o755); err != nil {
		config.Exitf("create data dir: %v", err)
	}
	db, err := persistence.Open(srv.DBPath)
	if err != nil {
		config.Exitf("open database: %v", err)
	}
	defer db.Close()
	slog.Info("database opened", "path", srv.DBPath)

	seed, err := resolveSeed(db, srv.Seed, tuning.World.Gen.Seed)
	if err != nil {
		config.Exitf("seed: %v", err)
	}
	tuning.World.Gen.Seed = seed

	// ── Territory (regenerated from the seed on every start) ─────────
	terr := world.NewTerritory(tuning.World)
	for t, c := range world.TerrainCounts(terr.Map()) {
		slog.Debug("terrain", "type", world.TerrainName(t), "count", c)
	}

	// ── Economy ──────────────────────────────────────────────────────
	m := metrics.New()
	opts := engine.Options{Logger: logger, Recorder: m}
	if client := narrator.NewClient(srv.AnthropicKey,
		narrator.WithModel(srv.NarratorModel),
		narrator.WithRateLimit(srv.NarratorPerMin),
	); client.Enabled() {
		opts.Narrator = client
		slog.Info("narrator enabled")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, puzzles and offers keep their generated text")
	}

	st, found, err := db.LoadState()
	if err != nil {
		config.Exitf("load state: %v", err)
	}
	// Resumed sessions draw from a fresh stream so they don't replay.
	opts.Rand = entropy.NewSeeded(seed ^ int64(st.Tick))
	econ := engine.NewEconomy(tuning.Economy, opts)
	if found {
		if err := econ.Import(st); err != nil {
			config.Exitf("import state: %v", err)
		}
		restoreTerritory(db, terr)
		slog.Info("resumed session", "tick", st.Tick, "radius", terr.Radius())
	}

	// ── Engine ───────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Tick = econ.Tick()
	eng.Interval = srv.TickInterval
	eng.TicksPerRound = tuning.TicksPerRound
	eng.TicksPerSave = tuning.TicksPerSave

	limiter := api.NewRateLimiter(float64(srv.ActionPerSecond), 2*srv.ActionPerSecond)
	limiter.TrustProxy = srv.TrustProxy

	apiServer := &api.Server{
		Econ:        econ,
		Eng:         eng,
		Terr:        terr,
		Metrics:     m,
		Limiter:     limiter,
		AdminKey:    srv.AdminKey,
		CORSOrigins: srv.CORSOrigins,
	}
	hub := apiServer.Hub()

	// capture runs on the loop goroutine.
	capture := func() checkpoint {
		return checkpoint{state: econ.Export(), radius: terr.Radius(), lastExpand: terr.LastExpand()}
	}
	eng.OnTick = func(tick uint64, now time.Time) {
		hub.Publish(econ.Update(terr.Input(now)))
	}
	eng.OnRound = func(tick uint64) {
		econ.EndRound()
		if srv.ArchiveDir != "" {
			path := filepath.Join(srv.ArchiveDir, fmt.Sprintf("round-%08d.json.zst", tick))
			if err := persistence.SaveArchive(path, econ.Export()); err != nil {
				slog.Error("round archive failed", "path", path, "error", err)
			}
		}
	}
	eng.OnSave = func(tick uint64) {
		if err := capture().save(db); err != nil {
			slog.Error("auto-save failed", "tick", tick, "error", err)
		}
	}
	apiServer.Save = func(ctx context.Context) error {
		var cp checkpoint
		if err := eng.Do(ctx, func() { cp = capture() }); err != nil {
			return err
		}
		return cp.save(db)
	}

	if srv.AdminKey == "" {
		slog.Warn("QUATERNION_ADMIN_KEY not set, /api/v1/save is disabled")
	}

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The loop owns the economy before the first request can reach it.
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()
	<-eng.Started()

	apiDone := make(chan struct{})
	go func() {
		defer close(apiDone)
		if err := apiServer.ListenAndServe(ctx, srv.Addr); err != nil {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	fmt.Printf("\nQuaternion is live: %d hexes, capital at (%d,%d), seed %d.\n",
		terr.Map().HexCount(), terr.Capital().Q, terr.Capital().R, seed)
	fmt.Printf("API: http://localhost%s/api/v1/status\n", srv.Addr)
	fmt.Println("Economy running... (Ctrl+C to stop)")

	<-engineDone
	<-apiDone

	// Final save on shutdown. The loop has exited, so capture runs here.
	slog.Info("final save...")
	if err := capture().save(db); err != nil {
		slog.Error("final save failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Economy stopped. Session saved.")
}

// checkpoint is everything a save writes.
type checkpoint struct {
	state      engine.State
	radius     int
	lastExpand time.Time
}

func (c checkpoint) save(db *persistence.DB) error {
	if err := db.SaveState(c.state); err != nil {
		return err
	}
	if err := db.SaveMeta(metaRadius, strconv.Itoa(c.radius)); err != nil {
		return err
	}
	return db.SaveMeta(metaLastExpand, c.lastExpand.Format(time.RFC3339Nano))
}

// resolveSeed keeps the seed of an existing database so the territory
// regenerates identically. Otherwise the first non-zero of the env and
// tuning seeds is used, or a fresh one.
func resolveSeed(db *persistence.DB, envSeed, tuningSeed int64) (int64, error) {
	if v, err := db.GetMeta(metaSeed); err == nil {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil && seed != 0 {
			return seed, nil
		}
	}
	seed := envSeed
	if seed == 0 {
		seed = tuningSeed
	}
	if seed == 0 {
		var err error
		if seed, err = entropy.NewSeed(); err != nil {
			return 0, err
		}
	}
	return seed, db.SaveMeta(metaSeed, strconv.FormatInt(seed, 10))
}

func restoreTerritory(db *persistence.DB, terr *world.Territory) {
	v, err := db.GetMeta(metaRadius)
	if err != nil {
		return
	}
	radius, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("bad territory radius in database", "value", v)
		return
	}
	var last time.Time
	if v, err := db.GetMeta(metaLastExpand); err == nil {
		last, _ = time.Parse(time.RFC3339Nano, v)
	}
	terr.Restore(radius, last)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
