// Package journal 把每个周期的摘要与自有成交写入 SQLite，供事后复盘。
//
// 表结构：
//   - cycles: 每周期一行（theo、margin、delta、pnl、下单/拒单数、是否跳过）。
//   - fills:  自有成交，trade_id 唯一，重复写入被忽略。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"theo-quoter/infrastructure/logger"
	"theo-quoter/internal/engine"
	"theo-quoter/market"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle       INTEGER NOT NULL,
    ts_ms       INTEGER NOT NULL,
    skipped     INTEGER NOT NULL DEFAULT 0,
    reason      TEXT    NOT NULL DEFAULT '',
    theo        REAL    NOT NULL DEFAULT 0,
    margin      REAL    NOT NULL DEFAULT 0,
    delta       INTEGER NOT NULL DEFAULT 0,
    pnl         REAL    NOT NULL DEFAULT 0,
    intents     INTEGER NOT NULL DEFAULT 0,
    submitted   INTEGER NOT NULL DEFAULT 0,
    rejected    INTEGER NOT NULL DEFAULT 0,
    duration_us INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fills (
    trade_id   INTEGER PRIMARY KEY,
    cycle      INTEGER NOT NULL,
    instrument TEXT    NOT NULL,
    side       TEXT    NOT NULL,
    price      REAL    NOT NULL,
    volume     INTEGER NOT NULL,
    ts_ms      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_ts  ON cycles(ts_ms DESC);
CREATE INDEX IF NOT EXISTS idx_fills_inst ON fills(instrument);
`

// CycleRow 是 cycles 表的一行。
type CycleRow struct {
	Cycle     int64
	Timestamp time.Time
	Skipped   bool
	Reason    string
	Theo      float64
	Margin    float64
	Delta     int64
	PnL       float64
	Intents   int
	Submitted int
	Rejected  int
	Duration  time.Duration
}

// FillSummary 按品种与方向汇总的自有成交。
type FillSummary struct {
	Instrument string
	Side       market.Side
	Count      int
	Volume     int64
	AvgPrice   float64
}

// Summary 是整个日志的汇总。
type Summary struct {
	Cycles    int
	Skipped   int
	Submitted int
	Rejected  int
	LastTheo  float64
	LastPnL   float64
	Fills     []FillSummary
}

// Journal 是线程安全的 SQLite 周期日志，实现 engine.Observer。
type Journal struct {
	db  *sql.DB
	log *logger.Logger
	mu  sync.Mutex
}

// Open 打开（或创建）数据库；":memory:" 用于测试。
func Open(dsn string, log *logger.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite 单写
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal.Open: apply schema: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Journal{db: db, log: log}, nil
}

// OnCycle 写入失败只记录日志，不影响控制循环。
func (j *Journal) OnCycle(r engine.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.Record(ctx, r); err != nil {
		j.log.Warn("journal write failed", zap.Int64("cycle", r.Cycle), zap.Error(err))
	}
}

// Record 在一个事务里写入周期摘要与本周期的自有成交。
func (j *Journal) Record(ctx context.Context, r engine.Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal.Record: begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cycles (cycle, ts_ms, skipped, reason, theo, margin, delta, pnl, intents, submitted, rejected, duration_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Cycle, ts.UnixMilli(), boolInt(r.Skipped), r.SkipReason, r.Theo, r.Margin, r.Delta, r.PnL,
		len(r.Intents), len(r.Sync.Submitted), len(r.Sync.Rejected), r.Duration.Microseconds(),
	); err != nil {
		return fmt.Errorf("journal.Record: insert cycle: %w", err)
	}

	if len(r.OwnTrades) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO fills (trade_id, cycle, instrument, side, price, volume, ts_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("journal.Record: prepare fill: %w", err)
		}
		defer stmt.Close()
		for _, t := range r.OwnTrades {
			at := t.Timestamp
			if at.IsZero() {
				at = ts
			}
			if _, err := stmt.ExecContext(ctx, t.ID, r.Cycle, t.Instrument, t.Side.String(), t.Price, t.Volume, at.UnixMilli()); err != nil {
				return fmt.Errorf("journal.Record: insert fill %d: %w", t.ID, err)
			}
		}
	}
	return tx.Commit()
}

// Recent 返回最近 limit 个周期，按时间倒序。
func (j *Journal) Recent(ctx context.Context, limit int) ([]CycleRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT cycle, ts_ms, skipped, reason, theo, margin, delta, pnl, intents, submitted, rejected, duration_us
		 FROM cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal.Recent: %w", err)
	}
	defer rows.Close()

	var out []CycleRow
	for rows.Next() {
		var (
			c       CycleRow
			tsMs    int64
			skipped int
			durUs   int64
		)
		if err := rows.Scan(&c.Cycle, &tsMs, &skipped, &c.Reason, &c.Theo, &c.Margin, &c.Delta, &c.PnL,
			&c.Intents, &c.Submitted, &c.Rejected, &durUs); err != nil {
			return nil, fmt.Errorf("journal.Recent: scan: %w", err)
		}
		c.Timestamp = time.UnixMilli(tsMs).UTC()
		c.Skipped = skipped != 0
		c.Duration = time.Duration(durUs) * time.Microsecond
		out = append(out, c)
	}
	return out, rows.Err()
}

// Summarize 汇总周期数、下单结果与按品种方向的成交。
func (j *Journal) Summarize(ctx context.Context) (Summary, error) {
	var s Summary
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(skipped),0), COALESCE(SUM(submitted),0), COALESCE(SUM(rejected),0) FROM cycles`,
	).Scan(&s.Cycles, &s.Skipped, &s.Submitted, &s.Rejected)
	if err != nil {
		return s, fmt.Errorf("journal.Summarize: cycles: %w", err)
	}

	err = j.db.QueryRowContext(ctx,
		`SELECT theo, pnl FROM cycles WHERE skipped = 0 ORDER BY id DESC LIMIT 1`,
	).Scan(&s.LastTheo, &s.LastPnL)
	if err != nil && err != sql.ErrNoRows {
		return s, fmt.Errorf("journal.Summarize: last cycle: %w", err)
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT instrument, side, COUNT(*), SUM(volume), SUM(price*volume)/SUM(volume)
		 FROM fills GROUP BY instrument, side ORDER BY instrument, side`)
	if err != nil {
		return s, fmt.Errorf("journal.Summarize: fills: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f    FillSummary
			side string
		)
		if err := rows.Scan(&f.Instrument, &side, &f.Count, &f.Volume, &f.AvgPrice); err != nil {
			return s, fmt.Errorf("journal.Summarize: scan fill: %w", err)
		}
		if f.Side, err = market.ParseSide(side); err != nil {
			return s, fmt.Errorf("journal.Summarize: %w", err)
		}
		s.Fills = append(s.Fills, f)
	}
	return s, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
