package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for poll cursors, processed-event
// marks, and the business projections the handlers maintain.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  network     TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  tx_index    INTEGER NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS processed_events (
  key         TEXT PRIMARY KEY,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS markets (
  id          INTEGER PRIMARY KEY,
  creator     TEXT NOT NULL,
  question    TEXT,
  fee_rate    INTEGER NOT NULL DEFAULT 0,
  resolved    INTEGER NOT NULL DEFAULT 0,
  outcome     INTEGER,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bets (
  market_id   INTEGER NOT NULL,
  bettor      TEXT NOT NULL,
  tx_id       TEXT NOT NULL,
  outcome     INTEGER NOT NULL,
  amount      INTEGER NOT NULL,
  claimed     INTEGER NOT NULL DEFAULT 0,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(market_id, bettor, tx_id)
);

CREATE TABLE IF NOT EXISTS token_flows (
  tx_id       TEXT NOT NULL,
  event_index INTEGER NOT NULL,
  op          TEXT NOT NULL,
  sender      TEXT,
  recipient   TEXT,
  amount      INTEGER NOT NULL,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(tx_id, event_index)
);

CREATE TABLE IF NOT EXISTS anomalies (
  tx_id       TEXT NOT NULL,
  event_index INTEGER NOT NULL,
  sender      TEXT NOT NULL,
  recipient   TEXT,
  amount      INTEGER NOT NULL,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(tx_id, event_index)
);

CREATE TABLE IF NOT EXISTS deployments (
  contract_id TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertCursor records the latest fully processed position for a network.
func (s *Store) UpsertCursor(ctx context.Context, network string, height uint64, txIndex uint32) error {
	if network == "" {
		return errors.New("network required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (network, height, tx_index, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(network) DO UPDATE SET
  height=excluded.height,
  tx_index=excluded.tx_index,
  updated_at=CURRENT_TIMESTAMP;
`, network, height, txIndex)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a network.
func (s *Store) GetCursor(ctx context.Context, network string) (height uint64, txIndex uint32, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, tx_index FROM cursors WHERE network = ?;
`, network)
	switch err = row.Scan(&height, &txIndex); err {
	case nil:
		return height, txIndex, true, nil
	case sql.ErrNoRows:
		return 0, 0, false, nil
	default:
		return 0, 0, false, fmt.Errorf("get cursor: %w", err)
	}
}

// MarkProcessed records an event occurrence key. Returns true when the
// key was already present, which is how handlers stay idempotent under
// at-least-once delivery.
func (s *Store) MarkProcessed(ctx context.Context, key string) (already bool, err error) {
	if key == "" {
		return false, errors.New("key required")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO processed_events (key) VALUES (?)
ON CONFLICT(key) DO NOTHING;
`, key)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return n == 0, nil
}

// IsProcessed reports whether an occurrence key has been marked.
func (s *Store) IsProcessed(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_events WHERE key = ?;`, key).Scan(&one)
	switch err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("check processed: %w", err)
	}
}

// UnmarkProcessed removes an occurrence key so a rolled-back event can
// be re-applied if the chain confirms it again later.
func (s *Store) UnmarkProcessed(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE key = ?;`, key)
	if err != nil {
		return fmt.Errorf("unmark processed: %w", err)
	}
	return nil
}

// Market is one market projection row.
type Market struct {
	ID       uint64
	Creator  string
	Question string
	FeeRate  uint64
	Resolved bool
	Outcome  bool
}

// UpsertMarket creates or refreshes a market row.
func (s *Store) UpsertMarket(ctx context.Context, m Market) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO markets (id, creator, question, fee_rate)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  creator=excluded.creator,
  question=excluded.question,
  fee_rate=excluded.fee_rate;
`, m.ID, m.Creator, m.Question, m.FeeRate)
	if err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	return nil
}

// DeleteMarket removes a market row (rollback compensation).
func (s *Store) DeleteMarket(ctx context.Context, id uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM markets WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete market: %w", err)
	}
	return nil
}

// GetMarket loads one market row.
func (s *Store) GetMarket(ctx context.Context, id uint64) (Market, bool, error) {
	var m Market
	var resolved, outcome sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
SELECT id, creator, question, fee_rate, resolved, outcome FROM markets WHERE id = ?;
`, id)
	err := row.Scan(&m.ID, &m.Creator, &m.Question, &m.FeeRate, &resolved, &outcome)
	if err == sql.ErrNoRows {
		return Market{}, false, nil
	}
	if err != nil {
		return Market{}, false, fmt.Errorf("get market: %w", err)
	}
	m.Resolved = resolved.Int64 != 0
	m.Outcome = outcome.Int64 != 0
	return m, true, nil
}

// ListMarkets returns every market row ordered by id.
func (s *Store) ListMarkets(ctx context.Context) ([]Market, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, creator, question, fee_rate, resolved, outcome FROM markets ORDER BY id;
`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var out []Market
	for rows.Next() {
		var m Market
		var resolved, outcome sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Creator, &m.Question, &m.FeeRate, &resolved, &outcome); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		m.Resolved = resolved.Int64 != 0
		m.Outcome = outcome.Int64 != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListBets returns every bet row ordered by market and bettor.
func (s *Store) ListBets(ctx context.Context) ([]Bet, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT market_id, bettor, tx_id, outcome, amount, claimed FROM bets ORDER BY market_id, bettor;
`)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		var b Bet
		var outcome, claimed int
		if err := rows.Scan(&b.MarketID, &b.Bettor, &b.TxID, &outcome, &b.Amount, &claimed); err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		b.Outcome = outcome != 0
		b.Claimed = claimed != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetMarketResolution records or clears a market's resolution.
func (s *Store) SetMarketResolution(ctx context.Context, id uint64, resolved, outcome bool) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE markets SET resolved = ?, outcome = ? WHERE id = ?;
`, boolInt(resolved), boolInt(outcome), id)
	if err != nil {
		return fmt.Errorf("set market resolution: %w", err)
	}
	return nil
}

// Bet is one wager projection row.
type Bet struct {
	MarketID uint64
	Bettor   string
	TxID     string
	Outcome  bool
	Amount   uint64
	Claimed  bool
}

// UpsertBet records a wager; the primary key makes replays harmless.
func (s *Store) UpsertBet(ctx context.Context, b Bet) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bets (market_id, bettor, tx_id, outcome, amount)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(market_id, bettor, tx_id) DO UPDATE SET
  outcome=excluded.outcome,
  amount=excluded.amount;
`, b.MarketID, b.Bettor, b.TxID, boolInt(b.Outcome), b.Amount)
	if err != nil {
		return fmt.Errorf("upsert bet: %w", err)
	}
	return nil
}

// DeleteBet removes a wager (rollback compensation).
func (s *Store) DeleteBet(ctx context.Context, marketID uint64, bettor, txID string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM bets WHERE market_id = ? AND bettor = ? AND tx_id = ?;
`, marketID, bettor, txID)
	if err != nil {
		return fmt.Errorf("delete bet: %w", err)
	}
	return nil
}

// SetBetClaimed flags every bet a bettor holds on a market as claimed or not.
func (s *Store) SetBetClaimed(ctx context.Context, marketID uint64, bettor string, claimed bool) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE bets SET claimed = ? WHERE market_id = ? AND bettor = ?;
`, boolInt(claimed), marketID, bettor)
	if err != nil {
		return fmt.Errorf("set bet claimed: %w", err)
	}
	return nil
}

// CountBets returns the number of recorded bets for a market.
func (s *Store) CountBets(ctx context.Context, marketID uint64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bets WHERE market_id = ?;`, marketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bets: %w", err)
	}
	return n, nil
}

// TokenFlow is one fungible-token movement row.
type TokenFlow struct {
	TxID       string
	EventIndex int
	Op         string
	Sender     string
	Recipient  string
	Amount     uint64
}

// InsertTokenFlow records a mint/transfer/burn.
func (s *Store) InsertTokenFlow(ctx context.Context, f TokenFlow) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO token_flows (tx_id, event_index, op, sender, recipient, amount)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(tx_id, event_index) DO NOTHING;
`, f.TxID, f.EventIndex, f.Op, f.Sender, f.Recipient, f.Amount)
	if err != nil {
		return fmt.Errorf("insert token flow: %w", err)
	}
	return nil
}

// DeleteTokenFlow removes a token movement (rollback compensation).
func (s *Store) DeleteTokenFlow(ctx context.Context, txID string, eventIndex int) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM token_flows WHERE tx_id = ? AND event_index = ?;
`, txID, eventIndex)
	if err != nil {
		return fmt.Errorf("delete token flow: %w", err)
	}
	return nil
}

// Anomaly is one unexpected native-asset movement row.
type Anomaly struct {
	TxID       string
	EventIndex int
	Sender     string
	Recipient  string
	Amount     uint64
}

// InsertAnomaly records an unexpected native transfer out of a watched contract.
func (s *Store) InsertAnomaly(ctx context.Context, a Anomaly) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO anomalies (tx_id, event_index, sender, recipient, amount)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(tx_id, event_index) DO NOTHING;
`, a.TxID, a.EventIndex, a.Sender, a.Recipient, a.Amount)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// DeleteAnomaly removes an anomaly row (rollback compensation).
func (s *Store) DeleteAnomaly(ctx context.Context, txID string, eventIndex int) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM anomalies WHERE tx_id = ? AND event_index = ?;
`, txID, eventIndex)
	if err != nil {
		return fmt.Errorf("delete anomaly: %w", err)
	}
	return nil
}

// UpsertDeployment records a watched contract deployment.
func (s *Store) UpsertDeployment(ctx context.Context, contractID string, height uint64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO deployments (contract_id, height)
VALUES (?, ?)
ON CONFLICT(contract_id) DO UPDATE SET height=excluded.height;
`, contractID, height)
	if err != nil {
		return fmt.Errorf("upsert deployment: %w", err)
	}
	return nil
}

// DeleteDeployment removes a deployment row (rollback compensation).
func (s *Store) DeleteDeployment(ctx context.Context, contractID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE contract_id = ?;`, contractID)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	return nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
