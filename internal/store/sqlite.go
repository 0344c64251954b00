package store

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite"

	"TickSentinel/internal/calculator"
	"TickSentinel/internal/model"
	"TickSentinel/internal/resolution"
)

// SQLiteStore implements CandleStore on a single SQLite database. All
// resolutions share one parameterized table keyed (symbol, resolution, ts);
// the three SMA columns are nullable and recomputed per partition on every
// write, since late or out-of-order candles can shift every subsequent
// value.
type SQLiteStore struct {
	db *sql.DB

	// Writes to the same partition are serialized; different partitions
	// never block each other.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so readers (signal queries) don't block the tick write path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, locks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] candle store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			resolution TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			sma20      REAL,
			sma50      REAL,
			sma200     REAL,
			PRIMARY KEY (symbol, resolution, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_part_ts ON candles(symbol, resolution, ts)`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) partitionLock(symbol string, res resolution.Resolution) *sync.Mutex {
	key := symbol + "|" + string(res)
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.locks[key] = m
	return m
}

func (s *SQLiteStore) StoreCandles(symbol string, res resolution.Resolution, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	lock := s.partitionLock(symbol, res)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin store candles: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.Prepare(`INSERT INTO candles
		(symbol, resolution, ts, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol, resolution, ts) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	for _, c := range candles {
		if _, err := upsert.Exec(symbol, string(res), c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("upsert candle ts=%d: %w", c.Timestamp, err)
		}
	}

	if err := s.recomputeSMA(tx, symbol, res); err != nil {
		return fmt.Errorf("recompute sma: %w", err)
	}
	return tx.Commit()
}

// recomputeSMA sweeps the whole partition once, maintaining fixed-size
// sliding windows for each period, and rewrites the derived columns.
func (s *SQLiteStore) recomputeSMA(tx *sql.Tx, symbol string, res resolution.Resolution) error {
	rows, err := tx.Query(`SELECT ts, close FROM candles
		WHERE symbol=? AND resolution=? ORDER BY ts ASC`, symbol, string(res))
	if err != nil {
		return err
	}
	var ts []int64
	var closes []float64
	for rows.Next() {
		var t int64
		var c float64
		if err := rows.Scan(&t, &c); err != nil {
			rows.Close()
			return err
		}
		ts = append(ts, t)
		closes = append(closes, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	sma20 := calculator.SlidingSMA(closes, 20)
	sma50 := calculator.SlidingSMA(closes, 50)
	sma200 := calculator.SlidingSMA(closes, 200)

	update, err := tx.Prepare(`UPDATE candles SET sma20=?, sma50=?, sma200=?
		WHERE symbol=? AND resolution=? AND ts=?`)
	if err != nil {
		return err
	}
	defer update.Close()

	for i := range ts {
		if _, err := update.Exec(nullable(sma20[i]), nullable(sma50[i]), nullable(sma200[i]),
			symbol, string(res), ts[i]); err != nil {
			return err
		}
	}
	return nil
}

// nullable maps the calculator's NaN sentinel (window not yet full) onto a
// SQL NULL. A short window is absent, not zero.
func nullable(v float64) interface{} {
	if v != v { // NaN
		return nil
	}
	return v
}

func (s *SQLiteStore) GetCandles(symbol string, res resolution.Resolution, fromTs, toTs int64) ([]model.Candle, error) {
	rows, err := s.db.Query(`SELECT ts, open, high, low, close, volume FROM candles
		WHERE symbol=? AND resolution=? AND ts>=? AND ts<=? ORDER BY ts ASC`,
		symbol, string(res), fromTs, toTs)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	candles := []model.Candle{}
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (s *SQLiteStore) CountCandles(symbol string, res resolution.Resolution, fromTs, toTs int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM candles
		WHERE symbol=? AND resolution=? AND ts>=? AND ts<=?`,
		symbol, string(res), fromTs, toTs).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count candles: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetCachedSMA(symbol string, res resolution.Resolution, period int) (*model.SMAValue, error) {
	if !validPeriod(period) {
		return nil, fmt.Errorf("%w: %d", ErrBadPeriod, period)
	}
	col := fmt.Sprintf("sma%d", period)
	var v model.SMAValue
	err := s.db.QueryRow(fmt.Sprintf(`SELECT ts, %s FROM candles
		WHERE symbol=? AND resolution=? AND %s IS NOT NULL
		ORDER BY ts DESC LIMIT 1`, col, col),
		symbol, string(res)).Scan(&v.Timestamp, &v.Value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cached sma: %w", err)
	}
	return &v, nil
}

func (s *SQLiteStore) CacheSMA(symbol string, res resolution.Resolution, period int, candles []model.Candle) error {
	if !validPeriod(period) {
		return fmt.Errorf("%w: %d", ErrBadPeriod, period)
	}
	if len(candles) < period {
		return nil
	}
	return s.StoreCandles(symbol, res, candles)
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing candle store")
	return s.db.Close()
}
