package persistence

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/engine"
	"github.com/lucylow/quaternion/internal/entropy"
	"github.com/lucylow/quaternion/internal/puzzle"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "economy.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// sessionState runs a short seeded session and returns its export with
// a known history attached.
func sessionState(t *testing.T) engine.State {
	t.Helper()
	e := engine.NewEconomy(engine.DefaultConfig(), engine.Options{
		Rand:   entropy.NewSeeded(5),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	in := engine.TickInput{ControlledNodes: map[economy.Commodity]int{economy.Ore: 3, economy.Data: 1}}
	for i := 0; i < 200; i++ {
		in.Now = t0.Add(time.Duration(i) * time.Second)
		e.Update(in)
	}
	st := e.Export()
	st.Puzzles.History = []puzzle.Resolution{
		{PuzzleID: "p1", Kind: puzzle.KindCrisisResponse, OptionID: "defense", Option: puzzle.OptionDefense,
			Cost: economy.Amounts{economy.Ore: 12, economy.Energy: 8}, ResolvedAt: t0},
		{PuzzleID: "p2", Kind: puzzle.KindStandardAllocation, OptionID: "economy", Option: puzzle.OptionEconomy,
			Cost: economy.Amounts{economy.Data: 3}, ResolvedAt: t0.Add(time.Minute)},
	}
	st.Market.History = []blackmarket.Deal{
		{OfferID: "o1", Kind: blackmarket.KindDesperateBoost, Trader: "reckless",
			Costs: economy.Amounts{economy.Data: 5}, Rewards: economy.Amounts{economy.Ore: 150},
			Risk: 0.45, Triggered: true, AcceptedAt: t0.Add(2 * time.Minute)},
	}
	return st
}

func TestLoadStateEmpty(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.LoadState()
	if err != nil || ok {
		t.Fatalf("expected no saved state, got ok=%v err=%v", ok, err)
	}
}

func TestSaveLoadState(t *testing.T) {
	db := openTestDB(t)
	st := sessionState(t)
	if err := db.SaveState(st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := db.LoadState()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Tick != st.Tick || got.Version != engine.StateVersion {
		t.Fatalf("header mismatch: %d/%d", got.Tick, got.Version)
	}
	for _, c := range economy.Commodities {
		a, b := got.Ledger.Accounts[c], st.Ledger.Accounts[c]
		if a.Amount != b.Amount || a.Capacity != b.Capacity || a.DecayRate != b.DecayRate {
			t.Fatalf("%s account mismatch: %+v vs %+v", c, a, b)
		}
	}
	if len(got.Routes) != len(st.Routes) {
		t.Fatalf("expected %d routes, got %d", len(st.Routes), len(got.Routes))
	}

	if len(got.Puzzles.History) != 2 || got.Puzzles.History[0].PuzzleID != "p1" {
		t.Fatalf("puzzle history not restored in order: %+v", got.Puzzles.History)
	}
	r := got.Puzzles.History[0]
	if r.Option != puzzle.OptionDefense || r.Cost[economy.Energy] != 8 || !r.ResolvedAt.Equal(t0) {
		t.Fatalf("resolution mismatch: %+v", r)
	}
	if len(got.Market.History) != 1 {
		t.Fatalf("expected 1 deal, got %d", len(got.Market.History))
	}
	d := got.Market.History[0]
	if !d.Triggered || d.Trader != "reckless" || d.Rewards[economy.Ore] != 150 || !d.AcceptedAt.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("deal mismatch: %+v", d)
	}

	if v, err := db.GetMeta("last_tick"); err != nil || v != "200" {
		t.Fatalf("expected last_tick 200, got %q (%v)", v, err)
	}
}

func TestSaveStateReplaces(t *testing.T) {
	db := openTestDB(t)
	st := sessionState(t)
	if err := db.SaveState(st); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.Tick = 999
	st.Puzzles.History = st.Puzzles.History[:1]
	st.Market.History = nil
	if err := db.SaveState(st); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, _, err := db.LoadState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Tick != 999 || len(got.Puzzles.History) != 1 || len(got.Market.History) != 0 {
		t.Fatalf("save did not replace: tick %d, %d resolutions, %d deals",
			got.Tick, len(got.Puzzles.History), len(got.Market.History))
	}
}

func TestHistoryLimit(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveState(sessionState(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.PuzzleHistory(1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 || got[0].PuzzleID != "p2" {
		t.Fatalf("expected only the newest resolution, got %+v", got)
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveMeta("seed", "42"); err != nil {
		t.Fatalf("save meta: %v", err)
	}
	if err := db.SaveMeta("seed", "43"); err != nil {
		t.Fatalf("overwrite meta: %v", err)
	}
	if v, err := db.GetMeta("seed"); err != nil || v != "43" {
		t.Fatalf("expected 43, got %q (%v)", v, err)
	}
	if _, err := db.GetMeta("missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	st := sessionState(t)

	var buf bytes.Buffer
	if err := WriteArchive(&buf, st); err != nil {
		t.Fatalf("write: %v", err)
	}
	hdr, got, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if hdr.Tick != st.Tick || hdr.Version != st.Version {
		t.Fatalf("header mismatch: %+v", hdr)
	}
	if got.Tick != st.Tick || len(got.Market.History) != 1 || len(got.Puzzles.History) != 2 {
		t.Fatalf("state mismatch: tick %d", got.Tick)
	}

	path := filepath.Join(t.TempDir(), "archives", "session.json.zst")
	if err := SaveArchive(path, st); err != nil {
		t.Fatalf("save archive: %v", err)
	}
	loaded, err := LoadArchive(path)
	if err != nil {
		t.Fatalf("load archive: %v", err)
	}
	if loaded.Tick != st.Tick {
		t.Fatalf("expected tick %d, got %d", st.Tick, loaded.Tick)
	}
}

func TestReadArchiveRejectsGarbage(t *testing.T) {
	if _, _, err := ReadArchive(bytes.NewReader([]byte("not zstd at all"))); err == nil {
		t.Fatal("expected error")
	}
}
