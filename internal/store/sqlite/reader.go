package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"crypto-systemv1/internal/indicator"
	"crypto-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader is the read-only side of the SQLite store, used for backfill
// and snapshot restore on startup.
type Reader struct {
	db *sql.DB
}

// NewReader opens dbPath for reading. WAL mode lets it coexist with the
// single writer.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadTFCandles reads one market's TF candles after afterTS, oldest first
// so replay applies them in order.
func (r *Reader) ReadTFCandles(exchange, symbol string, tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, exchange, tf, ts, open, high, low, close, volume, count
		FROM candles_tf
		WHERE exchange = ? AND symbol = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, symbol, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles_tf: %w", err)
	}
	defer rows.Close()

	return scanTFCandles(rows)
}

// ReadAllTFCandles reads every market's candles for one TF, oldest first.
func (r *Reader) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, exchange, tf, ts, open, high, low, close, volume, count
		FROM candles_tf
		WHERE tf = ? AND ts > ?
		ORDER BY ts ASC
	`, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all candles_tf: %w", err)
	}
	defer rows.Close()

	return scanTFCandles(rows)
}

func scanTFCandles(rows *sql.Rows) ([]model.TFCandle, error) {
	var out []model.TFCandle
	for rows.Next() {
		var c model.TFCandle
		var tsUnix int64
		if err := rows.Scan(&c.Symbol, &c.Exchange, &c.TF, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_tf: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReadLatestSnapshotJSON loads the most recent snapshot row as raw JSON.
// Returns nil, nil if no snapshot exists.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM indicator_snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// ReadLatestSnapshot decodes the most recent engine snapshot, or nil when
// the table is empty.
func (r *Reader) ReadLatestSnapshot() (*indicator.EngineSnapshot, error) {
	data, err := r.ReadLatestSnapshotJSON()
	if err != nil || data == nil {
		return nil, err
	}

	snap := new(indicator.EngineSnapshot)
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// ReadRecentOrders returns the latest journaled orders, newest first.
func (r *Reader) ReadRecentOrders(limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT order_id, symbol, exchange, side, order_type, qty, price, avg_price, status, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var created, updated int64
		if err := rows.Scan(&o.OrderID, &o.Symbol, &o.Exchange, &o.TransactionType, &o.OrderType,
			&o.Qty, &o.Price, &o.AvgPrice, &o.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite scan orders: %w", err)
		}
		o.CreatedAt = time.Unix(created, 0).UTC()
		o.UpdatedAt = time.Unix(updated, 0).UTC()
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Close releases the read connection pool.
func (r *Reader) Close() error {
	return r.db.Close()
}
