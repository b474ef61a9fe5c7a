package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

const (
	insertCandle1sSQL = `
		INSERT OR REPLACE INTO candles_1s (symbol, exchange, ts, open, high, low, close, volume, ticks_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	insertCandleTFSQL = `
		INSERT OR REPLACE INTO candles_tf (symbol, exchange, tf, ts, open, high, low, close, volume, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
)

// schemaDDL is applied statement by statement on startup; everything is
// idempotent so reopening an existing database is a no-op.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS candles_1s (
		symbol     TEXT    NOT NULL,
		exchange   TEXT    NOT NULL,
		ts         INTEGER NOT NULL,
		open       REAL    NOT NULL,
		high       REAL    NOT NULL,
		low        REAL    NOT NULL,
		close      REAL    NOT NULL,
		volume     REAL,
		ticks_count INTEGER,
		PRIMARY KEY (exchange, symbol, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS candles_tf (
		symbol     TEXT    NOT NULL,
		exchange   TEXT    NOT NULL,
		tf         INTEGER NOT NULL,
		ts         INTEGER NOT NULL,
		open       REAL    NOT NULL,
		high       REAL    NOT NULL,
		low        REAL    NOT NULL,
		close      REAL    NOT NULL,
		volume     REAL,
		count      INTEGER,
		PRIMARY KEY (exchange, symbol, tf, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candles_tf_ts ON candles_tf (tf, ts)`,
	`CREATE TABLE IF NOT EXISTS indicator_snapshots (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		data       TEXT    NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id   TEXT PRIMARY KEY,
		symbol     TEXT NOT NULL,
		exchange   TEXT NOT NULL,
		side       TEXT NOT NULL,
		order_type TEXT NOT NULL,
		qty        REAL NOT NULL,
		price      REAL NOT NULL,
		avg_price  REAL NOT NULL,
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommit is called with batch size and duration after each flush (for metrics).
	OnCommit func(rows int, d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens (or creates) the database in WAL mode and applies the schema.
// The pool is pinned to one connection since only this writer holds it.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			return err
		}
	}
	return nil
}

// runBatchLoop accumulates channel items and flushes every
// defaultBatchSize rows or defaultFlushDelay, whichever comes first.
// Context cancellation and channel close both flush the remainder.
func runBatchLoop[T any](ctx context.Context, in <-chan T, flush func([]T)) {
	batch := make([]T, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	emit := func() {
		if len(batch) > 0 {
			flush(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			emit()
			return
		case item, ok := <-in:
			if !ok {
				emit()
				return
			}
			batch = append(batch, item)
			if len(batch) >= defaultBatchSize {
				emit()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			emit()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Run consumes 1s candles and persists them in batched transactions until
// ctx is cancelled or the channel closes.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	runBatchLoop(ctx, candleCh, func(batch []model.Candle) {
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
			return
		}
		log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
	})
}

// RunTFCandles is Run for timeframe candles.
func (w *Writer) RunTFCandles(ctx context.Context, tfCandleCh <-chan model.TFCandle) {
	runBatchLoop(ctx, tfCandleCh, func(batch []model.TFCandle) {
		start := time.Now()
		if err := w.insertTFBatch(batch); err != nil {
			log.Printf("[sqlite] TF batch insert error: %v", err)
			return
		}
		log.Printf("[sqlite] committed %d TF candles in %v", len(batch), time.Since(start))
		if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
	})
}

// execBatch runs one prepared-statement Exec per row inside a single
// transaction, rolling back on the first failure.
func (w *Writer) execBatch(query string, rows int, bind func(stmt *sql.Stmt, i int) error) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < rows; i++ {
		if err := bind(stmt, i); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (w *Writer) insertBatch(candles []model.Candle) error {
	return w.execBatch(insertCandle1sSQL, len(candles), func(stmt *sql.Stmt, i int) error {
		c := candles[i]
		_, err := stmt.Exec(c.Symbol, c.Exchange, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.TicksCount)
		return err
	})
}

func (w *Writer) insertTFBatch(candles []model.TFCandle) error {
	return w.execBatch(insertCandleTFSQL, len(candles), func(stmt *sql.Stmt, i int) error {
		c := candles[i]
		_, err := stmt.Exec(c.Symbol, c.Exchange, c.TF, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Count)
		return err
	})
}

// GetLastTimestamp returns the last stored candle timestamp for a given market.
// Returns 0 if no candles exist.
func (w *Writer) GetLastTimestamp(exchange, symbol string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles_1s WHERE exchange = ? AND symbol = ?`,
		exchange, symbol,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveSnapshotJSON persists a JSON-encoded engine snapshot, keeping only
// the newest ten rows.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	_, err := w.db.Exec(`INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.Exec(`DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY created_at DESC LIMIT 10)`)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}

	return nil
}

// SaveSnapshot marshals and persists an indicator engine snapshot.
func (w *Writer) SaveSnapshot(snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return w.SaveSnapshotJSON(data)
}

// SnapshotStore pairs a Writer and Reader into a model.SnapshotStore.
// The reader may be nil; reads then report no snapshot.
func SnapshotStore(w *Writer, r *Reader) model.SnapshotStore {
	return snapStore{w: w, r: r}
}

type snapStore struct {
	w *Writer
	r *Reader
}

func (s snapStore) SaveSnapshotJSON(data []byte) error {
	return s.w.SaveSnapshotJSON(data)
}

func (s snapStore) ReadLatestSnapshotJSON() ([]byte, error) {
	if s.r == nil {
		return nil, nil
	}
	return s.r.ReadLatestSnapshotJSON()
}

// InsertOrder journals an order (insert or status update).
func (w *Writer) InsertOrder(o model.Order) error {
	_, err := w.db.Exec(`
		INSERT OR REPLACE INTO orders (order_id, symbol, exchange, side, order_type, qty, price, avg_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.OrderID, o.Symbol, o.Exchange, o.TransactionType, o.OrderType,
		o.Qty, o.Price, o.AvgPrice, o.Status, o.CreatedAt.Unix(), o.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
