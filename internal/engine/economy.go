package engine

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/conversion"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
	"github.com/lucylow/quaternion/internal/events"
	"github.com/lucylow/quaternion/internal/narrator"
	"github.com/lucylow/quaternion/internal/puzzle"
)

// Recorder receives economy telemetry. All methods must be cheap; they
// run on the tick path.
type Recorder interface {
	ObserveTick(out TickOutput)
	Conversion(route string, catastrophic bool)
	PuzzleResolved(option string, riskTriggered bool)
	OfferAccepted(kind string, triggered bool)
	SubsystemFailure(subsystem string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(TickOutput) {}
func (nopRecorder) Conversion(string, bool) {}
func (nopRecorder) PuzzleResolved(string, bool) {}
func (nopRecorder) OfferAccepted(string, bool) {}
func (nopRecorder) SubsystemFailure(string) {}

// Options carries the collaborators injected into an Economy.
type Options struct {
	Rand     entropy.Rand      // required for reproducible sessions; crypto source if nil
	Narrator narrator.Narrator // optional
	Logger   *slog.Logger
	Recorder Recorder
}

// Economy is the per-session orchestrator. It owns the ledger and every
// engine, and is driven one tick at a time. It is not safe for
// concurrent use: callers serialize through Engine.Do.
type Economy struct {
	cfg Config
	log *slog.Logger
	rec Recorder
	rng entropy.Rand

	ledger  *economy.Ledger
	routes  *conversion.Engine
	events  *events.Engine
	puzzles *puzzle.Engine
	market  *blackmarket.Engine
	narr    *narrator.Dispatcher

	tick  uint64
	now   time.Time
	techs map[string]bool // researched techs whose boosts are applied
	tags  []string

	latest atomic.Pointer[TickOutput]
}

// NewEconomy builds a fresh session from cfg.
func NewEconomy(cfg Config, opts Options) *Economy {
	rng := opts.Rand
	if rng == nil {
		rng = entropy.Crypto{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	e := &Economy{
		cfg:     cfg,
		log:     log,
		rec:     rec,
		rng:     rng,
		ledger:  economy.NewLedger(cfg.Ledger),
		routes:  conversion.New(cfg.Routes, cfg.Conversion, rng),
		events:  events.New(cfg.Events, rng),
		puzzles: puzzle.New(cfg.Puzzles, rng),
		market:  blackmarket.New(cfg.Market, rng),
		narr:    narrator.NewDispatcher(opts.Narrator, cfg.NarratorTimeout, log),
		now:     time.Now(),
		techs:   make(map[string]bool),
	}
	e.publish()
	return e
}

// Update advances the economy by one tick. The order is fixed: apply
// finished narration, tech boosts, events, ledger generation and decay,
// then puzzle and market maintenance. Each step is isolated so a
// failing subsystem never skips the others.
func (e *Economy) Update(in TickInput) TickOutput {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	e.tick++
	e.now = now
	e.tags = append(e.tags[:0], in.PlayerBehaviorTags...)

	e.guard("narrator", e.applyNarration)
	e.guard("techs", func() { e.applyTechs(in.ResearchedTechs) })

	var spawned []events.Event
	modifiers := economy.Amounts{}
	e.guard("events", func() {
		_, spawned = e.events.Update(now, e.ledger.Instability())
		modifiers = e.events.Modifiers(now)
	})

	e.guard("ledger", func() {
		e.ledger.Tick(in.ControlledNodes, in.BuildingProduction, modifiers)
	})

	var newPuzzle *puzzle.Puzzle
	e.guard("puzzles", func() {
		newPuzzle = e.puzzles.Maintain(e.puzzleContext())
	})

	var newOffers []blackmarket.Offer
	e.guard("market", func() {
		_, newOffers = e.market.Update(now, e.ledger.Total())
	})

	e.guard("narrator", func() {
		for _, ev := range spawned {
			e.narrate(narrator.SubjectEvent, ev.ID, ev.Title, ev.Description)
		}
		if newPuzzle != nil {
			e.narrate(narrator.SubjectPuzzle, newPuzzle.ID, newPuzzle.Title, newPuzzle.Description)
		}
		for _, o := range newOffers {
			e.narrate(narrator.SubjectOffer, o.ID, o.Title, o.Description)
		}
	})

	for _, ev := range spawned {
		e.log.Info("economy event", "tick", e.tick, "event", ev.Template, "positive", ev.Positive, "ends", ev.End)
	}
	if newPuzzle != nil {
		e.log.Info("allocation puzzle", "tick", e.tick, "kind", newPuzzle.Kind, "id", newPuzzle.ID)
	}
	for _, o := range newOffers {
		e.log.Info("market offer", "tick", e.tick, "kind", o.Kind, "trader", o.Trader, "id", o.ID)
	}

	out := e.publish()
	e.rec.ObserveTick(out)
	return out
}

// guard runs fn and recovers any panic so the rest of the tick proceeds.
func (e *Economy) guard(subsystem string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("economy subsystem failed", "subsystem", subsystem, "tick", e.tick, "panic", r)
			e.rec.SubsystemFailure(subsystem)
		}
	}()
	fn()
}

func (e *Economy) puzzleContext() puzzle.Context {
	return puzzle.Context{
		Resources:     e.ledger.Amounts(),
		ActiveEvents:  len(e.events.Active(e.now)),
		ResearchLevel: len(e.techs),
		Tags:          e.tags,
		Now:           e.now,
	}
}

// applyTechs boosts routes once for every newly researched tech.
// Research level counts every distinct tech reported, known or not.
func (e *Economy) applyTechs(researched []string) {
	for _, tech := range researched {
		if tech == "" || e.techs[tech] {
			continue
		}
		e.techs[tech] = true
		for _, b := range e.cfg.Techs[tech] {
			if err := e.routes.Boost(b.Route, b.Efficiency, b.Stability); err != nil {
				e.log.Warn("tech boost skipped", "tech", tech, "route", b.Route, "error", err)
			}
		}
		e.log.Info("tech unlocked", "tech", tech, "boosts", len(e.cfg.Techs[tech]))
	}
}

func (e *Economy) narrate(kind narrator.SubjectKind, id, title, desc string) {
	s := narrator.Subject{
		Kind:        kind,
		ID:          id,
		Title:       title,
		Description: desc,
		Tags:        append([]string(nil), e.tags...),
		Instability: e.ledger.Instability(),
	}
	if o, ok := e.narr.Submit(s); ok {
		e.rename(kind, id, o)
	}
}

// applyNarration applies finished enhancements whose target still
// exists. Anything else is dropped.
func (e *Economy) applyNarration() {
	for _, r := range e.narr.Drain() {
		e.rename(r.Kind, r.ID, r.Override)
	}
}

func (e *Economy) rename(kind narrator.SubjectKind, id string, o narrator.Override) bool {
	switch kind {
	case narrator.SubjectEvent:
		return e.events.Rename(id, o.Title, o.Description)
	case narrator.SubjectPuzzle:
		return e.puzzles.Rename(id, o.Title, o.Description)
	case narrator.SubjectOffer:
		return e.market.Rename(id, o.Title, o.Description)
	}
	return false
}

// publish builds the current snapshot and makes it visible to Latest.
func (e *Economy) publish() TickOutput {
	out := e.Snapshot()
	e.latest.Store(&out)
	return out
}

// Latest returns the most recently published snapshot. Unlike every
// other method it is safe to call from any goroutine.
func (e *Economy) Latest() TickOutput {
	if p := e.latest.Load(); p != nil {
		return *p
	}
	return TickOutput{}
}

// Snapshot builds a fresh read-only view of the economy.
func (e *Economy) Snapshot() TickOutput {
	gen := make(economy.Amounts, len(economy.Commodities))
	for _, c := range economy.Commodities {
		gen[c] = e.ledger.Account(c).LastGeneration
	}
	now := e.now
	return TickOutput{
		Tick:          e.tick,
		Now:           now,
		Resources:     e.ledger.Amounts(),
		Capacities:    e.ledger.Capacities(),
		Generation:    gen,
		Instability:   e.ledger.Instability(),
		Synergies:     e.ledger.Synergies(),
		ActiveEvents:  e.events.Active(now),
		ActivePuzzles: e.puzzles.Active(),
		MarketOffers:  e.market.Offers(),
		Routes:        e.routes.Routes(),
		ResearchLevel: len(e.techs),
	}
}

// Tick returns the number of ticks processed.
func (e *Economy) Tick() uint64 {
	return e.tick
}

// Techs returns the researched techs in sorted order.
func (e *Economy) Techs() []string {
	out := make([]string, 0, len(e.techs))
	for t := range e.techs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PuzzleHistory returns resolved puzzles, oldest first.
func (e *Economy) PuzzleHistory() []puzzle.Resolution {
	return e.puzzles.History()
}

// MarketHistory returns accepted offers, oldest first.
func (e *Economy) MarketHistory() []blackmarket.Deal {
	return e.market.History()
}

// EndRound is the round boundary: every touched route recovers.
func (e *Economy) EndRound() {
	e.routes.ResetAll()
	e.log.Info("round ended", "tick", e.tick)
	e.publish()
}
