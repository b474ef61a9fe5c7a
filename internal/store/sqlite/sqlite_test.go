package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"crypto-systemv1/internal/model"
)

func openTestStore(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	return w, r
}

func TestTFCandles_RoundTrip(t *testing.T) {
	w, r := openTestStore(t)

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	batch := []model.TFCandle{
		{Symbol: "BTCUSDT", Exchange: "BINANCE", TF: 60, TS: base, Open: 50000, High: 50100, Low: 49900, Close: 50050, Volume: 12.5, Count: 60},
		{Symbol: "BTCUSDT", Exchange: "BINANCE", TF: 60, TS: base.Add(time.Minute), Open: 50050, High: 50200, Low: 50000, Close: 50150, Volume: 8.25, Count: 60},
		{Symbol: "ETHUSDT", Exchange: "BINANCE", TF: 60, TS: base, Open: 2000, High: 2010, Low: 1995, Close: 2005, Volume: 100, Count: 60},
	}
	if err := w.insertTFBatch(batch); err != nil {
		t.Fatalf("insertTFBatch: %v", err)
	}

	got, err := r.ReadTFCandles("BINANCE", "BTCUSDT", 60, 0)
	if err != nil {
		t.Fatalf("ReadTFCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 BTCUSDT candles, got %d", len(got))
	}
	if got[0].Close != 50050 || got[1].Close != 50150 {
		t.Errorf("closes: got %v %v", got[0].Close, got[1].Close)
	}
	if !got[0].TS.Equal(base) {
		t.Errorf("ts: got %v, want %v", got[0].TS, base)
	}
	if got[0].Volume != 12.5 {
		t.Errorf("volume should survive as float: got %v", got[0].Volume)
	}

	// afterTS filter is exclusive
	got, err = r.ReadTFCandles("BINANCE", "BTCUSDT", 60, base.Unix())
	if err != nil {
		t.Fatalf("ReadTFCandles after: %v", err)
	}
	if len(got) != 1 || !got[0].TS.Equal(base.Add(time.Minute)) {
		t.Errorf("afterTS filter: got %d candles", len(got))
	}

	all, err := r.ReadAllTFCandles(60, 0)
	if err != nil {
		t.Fatalf("ReadAllTFCandles: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 candles across markets, got %d", len(all))
	}
}

func TestTFCandles_ReplaceOnSameKey(t *testing.T) {
	w, r := openTestStore(t)

	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	c := model.TFCandle{Symbol: "BTCUSDT", Exchange: "BINANCE", TF: 60, TS: ts, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1, Count: 30}
	if err := w.insertTFBatch([]model.TFCandle{c}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	c.Close = 3
	c.Count = 60
	if err := w.insertTFBatch([]model.TFCandle{c}); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	got, err := r.ReadTFCandles("BINANCE", "BTCUSDT", 60, 0)
	if err != nil {
		t.Fatalf("ReadTFCandles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected upsert to keep 1 row, got %d", len(got))
	}
	if got[0].Close != 3 || got[0].Count != 60 {
		t.Errorf("replace: got close=%v count=%d", got[0].Close, got[0].Count)
	}
}

func TestCandles1s_LastTimestamp(t *testing.T) {
	w, _ := openTestStore(t)

	ts, err := w.GetLastTimestamp("BINANCE", "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLastTimestamp empty: %v", err)
	}
	if ts != 0 {
		t.Errorf("expected 0 for empty table, got %d", ts)
	}

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	batch := []model.Candle{
		{Symbol: "BTCUSDT", Exchange: "BINANCE", TS: base, Open: 50000, High: 50000, Low: 50000, Close: 50000, Volume: 0.5, TicksCount: 3},
		{Symbol: "BTCUSDT", Exchange: "BINANCE", TS: base.Add(time.Second), Open: 50001, High: 50001, Low: 50001, Close: 50001, Volume: 0.25, TicksCount: 1},
	}
	if err := w.insertBatch(batch); err != nil {
		t.Fatalf("insertBatch: %v", err)
	}

	ts, err = w.GetLastTimestamp("BINANCE", "BTCUSDT")
	if err != nil {
		t.Fatalf("GetLastTimestamp: %v", err)
	}
	if ts != base.Add(time.Second).Unix() {
		t.Errorf("last ts: got %d, want %d", ts, base.Add(time.Second).Unix())
	}
}

func TestSnapshots_LatestAndPrune(t *testing.T) {
	w, r := openTestStore(t)

	got, err := r.ReadLatestSnapshotJSON()
	if err != nil {
		t.Fatalf("read empty: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for no snapshots, got %s", got)
	}

	// Insert 12; prune keeps the newest 10. created_at has second granularity,
	// so bump the clock artificially to keep ordering deterministic.
	for i := 0; i < 12; i++ {
		if err := w.SaveSnapshotJSON([]byte(`{"seq":` + model.Itoa(i) + `}`)); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if _, err := w.db.Exec(`UPDATE indicator_snapshots SET created_at = ? WHERE data = ?`,
			1700000000+int64(i), `{"seq":`+model.Itoa(i)+`}`); err != nil {
			t.Fatalf("stamp %d: %v", i, err)
		}
	}

	var count int
	if err := w.db.QueryRow(`SELECT COUNT(*) FROM indicator_snapshots`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 10 {
		t.Errorf("expected 10 snapshots after prune, got %d", count)
	}

	got, err = r.ReadLatestSnapshotJSON()
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if string(got) != `{"seq":11}` {
		t.Errorf("latest: got %s", got)
	}
}

func TestOrders_Journal(t *testing.T) {
	w, r := openTestStore(t)

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	o := model.Order{
		OrderID:         "01HV5K3Q8Z",
		Symbol:          "BTCUSDT",
		Exchange:        "BINANCE",
		TransactionType: "BUY",
		OrderType:       "MARKET",
		Qty:             0.02,
		Price:           50000,
		AvgPrice:        50005,
		Status:          "FILLED",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := w.InsertOrder(o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	// Status update replaces the row.
	o.Status = "CANCELLED"
	o.UpdatedAt = now.Add(time.Second)
	if err := w.InsertOrder(o); err != nil {
		t.Fatalf("InsertOrder update: %v", err)
	}

	orders, err := r.ReadRecentOrders(10)
	if err != nil {
		t.Fatalf("ReadRecentOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	got := orders[0]
	if got.Status != "CANCELLED" || got.Qty != 0.02 || got.AvgPrice != 50005 {
		t.Errorf("order round trip: %+v", got)
	}
	if !got.UpdatedAt.Equal(now.Add(time.Second)) {
		t.Errorf("updated_at: got %v", got.UpdatedAt)
	}
}
