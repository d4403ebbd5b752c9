// Package persistence provides SQLite-based session storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/engine"
	"github.com/lucylow/quaternion/internal/puzzle"
)

const timeLayout = time.RFC3339Nano

// DB wraps a SQLite connection for session persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS economy_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		saved_at TEXT NOT NULL,
		state_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS puzzle_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		puzzle_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		option_id TEXT NOT NULL,
		option_kind TEXT NOT NULL,
		cost_json TEXT NOT NULL,
		resolved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offer_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		offer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		trader TEXT NOT NULL,
		costs_json TEXT NOT NULL,
		rewards_json TEXT NOT NULL,
		risk REAL NOT NULL,
		triggered INTEGER NOT NULL,
		accepted_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_puzzle_history_resolved ON puzzle_history(resolved_at);
	CREATE INDEX IF NOT EXISTS idx_offer_history_trader ON offer_history(trader);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveState performs a full save of the session. Puzzle and market
// history go to their own tables; the rest is stored as one JSON row.
func (db *DB) SaveState(st engine.State) error {
	slog.Info("saving economy state", "tick", st.Tick,
		"resolutions", len(st.Puzzles.History), "deals", len(st.Market.History))

	resolutions, deals := st.Puzzles.History, st.Market.History
	st.Puzzles.History, st.Market.History = nil, nil
	data, err := engine.EncodeState(st)
	if err != nil {
		return err
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO economy_state
		(id, version, tick, saved_at, state_json) VALUES (1, ?, ?, ?, ?)`,
		st.Version, int64(st.Tick), time.Now().UTC().Format(timeLayout), string(data),
	); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := savePuzzleHistory(tx, resolutions); err != nil {
		return fmt.Errorf("save puzzle history: %w", err)
	}
	if err := saveOfferHistory(tx, deals); err != nil {
		return fmt.Errorf("save offer history: %w", err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		"last_tick", fmt.Sprintf("%d", st.Tick)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("economy state saved")
	return nil
}

// LoadState returns the saved session. ok is false when nothing has
// been saved yet. The stored JSON is schema-validated before use.
func (db *DB) LoadState() (st engine.State, ok bool, err error) {
	var raw string
	err = db.conn.Get(&raw, "SELECT state_json FROM economy_state WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return engine.State{}, false, nil
	}
	if err != nil {
		return engine.State{}, false, fmt.Errorf("load state: %w", err)
	}

	st, err = engine.DecodeState([]byte(raw))
	if err != nil {
		return engine.State{}, false, err
	}
	if st.Puzzles.History, err = db.PuzzleHistory(0); err != nil {
		return engine.State{}, false, err
	}
	if st.Market.History, err = db.OfferHistory(0); err != nil {
		return engine.State{}, false, err
	}
	return st, true, nil
}

type resolutionRow struct {
	PuzzleID   string `db:"puzzle_id"`
	Kind       string `db:"kind"`
	OptionID   string `db:"option_id"`
	OptionKind string `db:"option_kind"`
	CostJSON   string `db:"cost_json"`
	ResolvedAt string `db:"resolved_at"`
}

type dealRow struct {
	OfferID     string  `db:"offer_id"`
	Kind        string  `db:"kind"`
	Trader      string  `db:"trader"`
	CostsJSON   string  `db:"costs_json"`
	RewardsJSON string  `db:"rewards_json"`
	Risk        float64 `db:"risk"`
	Triggered   bool    `db:"triggered"`
	AcceptedAt  string  `db:"accepted_at"`
}

// savePuzzleHistory replaces the stored resolutions.
func savePuzzleHistory(tx *sqlx.Tx, history []puzzle.Resolution) error {
	if _, err := tx.Exec("DELETE FROM puzzle_history"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO puzzle_history
		(puzzle_id, kind, option_id, option_kind, cost_json, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range history {
		costJSON, _ := json.Marshal(r.Cost)
		_, err := stmt.Exec(r.PuzzleID, string(r.Kind), r.OptionID, string(r.Option),
			string(costJSON), r.ResolvedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert resolution %s: %w", r.PuzzleID, err)
		}
	}
	return nil
}

// saveOfferHistory replaces the stored deals.
func saveOfferHistory(tx *sqlx.Tx, history []blackmarket.Deal) error {
	if _, err := tx.Exec("DELETE FROM offer_history"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO offer_history
		(offer_id, kind, trader, costs_json, rewards_json, risk, triggered, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range history {
		costsJSON, _ := json.Marshal(d.Costs)
		rewardsJSON, _ := json.Marshal(d.Rewards)

		triggered := 0
		if d.Triggered {
			triggered = 1
		}

		_, err := stmt.Exec(d.OfferID, string(d.Kind), d.Trader, string(costsJSON), string(rewardsJSON),
			d.Risk, triggered, d.AcceptedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert deal %s: %w", d.OfferID, err)
		}
	}
	return nil
}

// PuzzleHistory returns the most recent limit resolutions, oldest
// first. A non-positive limit returns all of them.
func (db *DB) PuzzleHistory(limit int) ([]puzzle.Resolution, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []resolutionRow
	err := db.conn.Select(&rows, `SELECT puzzle_id, kind, option_id, option_kind, cost_json, resolved_at
		FROM (SELECT * FROM puzzle_history ORDER BY seq DESC LIMIT ?) ORDER BY seq`, limit)
	if err != nil {
		return nil, fmt.Errorf("query puzzle history: %w", err)
	}

	out := make([]puzzle.Resolution, 0, len(rows))
	for _, r := range rows {
		res := puzzle.Resolution{
			PuzzleID: r.PuzzleID,
			Kind:     puzzle.Kind(r.Kind),
			OptionID: r.OptionID,
			Option:   puzzle.OptionKind(r.OptionKind),
		}
		if err := json.Unmarshal([]byte(r.CostJSON), &res.Cost); err != nil {
			return nil, fmt.Errorf("decode resolution %s: %w", r.PuzzleID, err)
		}
		if res.ResolvedAt, err = time.Parse(timeLayout, r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("decode resolution %s: %w", r.PuzzleID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// OfferHistory returns the most recent limit deals, oldest first. A
// non-positive limit returns all of them.
func (db *DB) OfferHistory(limit int) ([]blackmarket.Deal, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []dealRow
	err := db.conn.Select(&rows, `SELECT offer_id, kind, trader, costs_json, rewards_json, risk, triggered, accepted_at
		FROM (SELECT * FROM offer_history ORDER BY seq DESC LIMIT ?) ORDER BY seq`, limit)
	if err != nil {
		return nil, fmt.Errorf("query offer history: %w", err)
	}

	out := make([]blackmarket.Deal, 0, len(rows))
	for _, r := range rows {
		d := blackmarket.Deal{
			OfferID:   r.OfferID,
			Kind:      blackmarket.Kind(r.Kind),
			Trader:    r.Trader,
			Risk:      r.Risk,
			Triggered: r.Triggered,
		}
		var costs, rewards economy.Amounts
		if err := json.Unmarshal([]byte(r.CostsJSON), &costs); err != nil {
			return nil, fmt.Errorf("decode deal %s: %w", r.OfferID, err)
		}
		if err := json.Unmarshal([]byte(r.RewardsJSON), &rewards); err != nil {
			return nil, fmt.Errorf("decode deal %s: %w", r.OfferID, err)
		}
		d.Costs, d.Rewards = costs, rewards
		if d.AcceptedAt, err = time.Parse(timeLayout, r.AcceptedAt); err != nil {
			return nil, fmt.Errorf("decode deal %s: %w", r.OfferID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// SaveMeta stores a key-value pair in session metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}
