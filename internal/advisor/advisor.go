package advisor

import (
	"context"
	"fmt"
	"log/slog"
)

// Advisor runs observe, decide, act cycles against one server.
type Advisor struct {
	Observer *Observer
	Actor    *Actor
	Policy   Policy
	DryRun   bool // decide and log, but never act
}

// New creates an Advisor for the API at baseURL.
func New(baseURL string, p Policy) *Advisor {
	return &Advisor{
		Observer: NewObserver(baseURL),
		Actor:    NewActor(baseURL),
		Policy:   p,
	}
}

// Report summarizes one cycle.
type Report struct {
	Tick        uint64     `json:"tick"`
	Instability float64    `json:"instability"`
	Planned     []Decision `json:"planned"`
	Succeeded   int        `json:"succeeded"`
	Rejected    int        `json:"rejected"`
}

// RunCycle executes one observe → decide → act cycle. Rejected actions
// are counted and logged; only transport failures abort the cycle.
func (a *Advisor) RunCycle(ctx context.Context) (Report, error) {
	snap, err := a.Observer.Observe(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("observe: %w", err)
	}
	rep := Report{Tick: snap.Tick, Instability: snap.Instability}
	slog.Info("observation complete",
		"tick", snap.Tick,
		"instability", fmt.Sprintf("%.1f", snap.Instability),
		"puzzles", len(snap.ActivePuzzles),
		"offers", len(snap.MarketOffers),
	)

	rep.Planned = Decide(*snap, a.Policy)
	if len(rep.Planned) == 0 || a.DryRun {
		slog.Info("advisor cycle complete", "planned", len(rep.Planned), "dry_run", a.DryRun)
		return rep, nil
	}

	for _, d := range rep.Planned {
		res, err := a.Actor.Act(ctx, d)
		if err != nil {
			return rep, fmt.Errorf("act: %w", err)
		}
		if !res.OK {
			rep.Rejected++
			slog.Warn("action rejected", "action", d.Action, "code", res.Code, "message", res.Message)
			continue
		}
		rep.Succeeded++
		slog.Info("action executed",
			"action", d.Action,
			"rationale", d.Rationale,
			"risk_triggered", res.RiskTriggered,
			"catastrophic", res.Catastrophic,
		)
	}
	return rep, nil
}
