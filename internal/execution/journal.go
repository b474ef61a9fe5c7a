package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal lands trade fills in SQLite for analysis and audit.
// It shares the store's DB handle so the single-writer discipline holds.
type Journal struct {
	mu      sync.Mutex
	db      *sql.DB
	ownedDB bool
}

// NewJournal creates the trades table on an existing DB handle
// (typically sqlite.Writer.DB()).
func NewJournal(db *sql.DB) (*Journal, error) {
	if err := createTradesSchema(db); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// OpenJournal opens a standalone journal database. Used by the backtester,
// which has no store writer of its own.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := createTradesSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db, ownedDB: true}, nil
}

func createTradesSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		action      TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		qty         REAL NOT NULL,
		price       REAL NOT NULL,
		slippage    REAL DEFAULT 0,
		reason      TEXT,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, exchange);
	CREATE INDEX IF NOT EXISTS idx_trades_filled_at ON trades(filled_at);
	`
	_, err := db.Exec(schema)
	return err
}

const insertTradeSQL = `INSERT INTO trades (order_id, strategy, action, symbol, exchange, qty, price, slippage, reason, filled_at)
 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordFill appends one fill to the trades table.
func (j *Journal) RecordFill(fill Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(insertTradeSQL,
		fill.OrderID, fill.Signal.StrategyName, string(fill.Signal.Action),
		fill.Signal.Symbol, fill.Signal.Exchange, fill.FillQty, fill.FillPrice,
		fill.Slippage, fill.Signal.Reason, fill.FilledAt.Format(time.RFC3339))
	return err
}

// TradeRecord mirrors one trades row.
type TradeRecord struct {
	ID       int64   `json:"id"`
	OrderID  string  `json:"order_id"`
	Strategy string  `json:"strategy"`
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Slippage float64 `json:"slippage"`
	Reason   string  `json:"reason"`
	FilledAt string  `json:"filled_at"`
}

const selectTradesSQL = `SELECT id, order_id, strategy, action, symbol, exchange, qty, price, slippage, reason, filled_at
 FROM trades ORDER BY id DESC LIMIT ?`

// GetTrades returns the last N trades, newest first. Rows that fail to
// scan are skipped rather than aborting the whole page.
func (j *Journal) GetTrades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(selectTradesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		if t, scanErr := scanTrade(rows); scanErr == nil {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func scanTrade(rows *sql.Rows) (TradeRecord, error) {
	var t TradeRecord
	err := rows.Scan(&t.ID, &t.OrderID, &t.Strategy, &t.Action, &t.Symbol,
		&t.Exchange, &t.Qty, &t.Price, &t.Slippage, &t.Reason, &t.FilledAt)
	return t, err
}

// Close closes the journal database if this journal owns the handle.
func (j *Journal) Close() error {
	if !j.ownedDB {
		return nil
	}
	return j.db.Close()
}
