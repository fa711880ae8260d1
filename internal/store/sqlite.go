package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS keyspace (
	key        TEXT PRIMARY KEY,
	kind       INTEGER NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS zset_members (
	key    TEXT NOT NULL,
	member TEXT NOT NULL,
	score  REAL NOT NULL,
	PRIMARY KEY (key, member)
);
CREATE INDEX IF NOT EXISTS idx_zset_key_score ON zset_members(key, score);
CREATE TABLE IF NOT EXISTS log_records (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	log    TEXT NOT NULL,
	id     TEXT NOT NULL,
	fields TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_records_log ON log_records(log, seq);
`

// SQLite is an embedded single-file Store for single-node deployments.
// Expiry is evaluated against the configured clock on every access.
// Capped logs are trimmed exactly.
type SQLite struct {
	db    *sql.DB
	clock clock.Clock

	closeOnce sync.Once
	closeErr  error
}

var _ AtomicWindow = (*SQLite)(nil)

// NewSQLite opens (or creates) the database at cfg.Path and migrates the schema.
func NewSQLite(ctx context.Context, cfg *SQLiteConfig, clk clock.Clock) (*SQLite, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultSQLiteBusyTimeout
	}
	if clk == nil {
		clk = clock.NewReal()
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection serialises writers; every multi-statement command runs
	// inside a transaction on it.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	return &SQLite{db: db, clock: clk}, nil
}

func (s *SQLite) nowMS() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// lookupKind drops key if it has expired and returns its kind, or 0 when absent.
func (s *SQLite) lookupKind(ctx context.Context, tx *sql.Tx, key string) (kind, error) {
	var (
		k         kind
		expiresAt int64
	)
	err := tx.QueryRowContext(ctx, `SELECT kind, expires_at FROM keyspace WHERE key = ?`, key).Scan(&k, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if expiresAt > 0 && expiresAt <= s.nowMS() {
		return 0, deleteKey(ctx, tx, key)
	}
	return k, nil
}

func deleteKey(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM keyspace WHERE key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zset_members WHERE key = ?`, key); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM log_records WHERE log = ?`, key)
	return err
}

// ensureKind creates key with kind k when absent and rejects other kinds.
func (s *SQLite) ensureKind(ctx context.Context, tx *sql.Tx, key string, k kind) error {
	existing, err := s.lookupKind(ctx, tx, key)
	if err != nil {
		return err
	}
	if existing == 0 {
		_, err = tx.ExecContext(ctx, `INSERT INTO keyspace (key, kind) VALUES (?, ?)`, key, k)
		return err
	}
	if existing != k {
		return ErrWrongType
	}
	return nil
}

// dropIfEmptyZSet removes the keyspace row of a sorted set with no members.
func dropIfEmptyZSet(ctx context.Context, tx *sql.Tx, key string) error {
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM zset_members WHERE key = ?`, key).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM keyspace WHERE key = ?`, key)
		return err
	}
	return nil
}

func (s *SQLite) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureKind(ctx, tx, key, kindZSet); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO zset_members (key, member, score) VALUES (?, ?, ?)
			 ON CONFLICT(key, member) DO UPDATE SET score = excluded.score`,
			key, member, score)
		return err
	})
}

func (s *SQLite) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	lo, err := parseScoreBound(min)
	if err != nil {
		return 0, err
	}
	hi, err := parseScoreBound(max)
	if err != nil {
		return 0, err
	}

	loOp, hiOp := ">=", "<="
	if lo.exclusive {
		loOp = ">"
	}
	if hi.exclusive {
		hiOp = "<"
	}

	var removed int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		k, err := s.lookupKind(ctx, tx, key)
		if err != nil || k == 0 {
			return err
		}
		if k != kindZSet {
			return ErrWrongType
		}

		// Infinite bounds are left out of the query: SQLite has no literal for them.
		q := `DELETE FROM zset_members WHERE key = ?`
		args := []any{key}
		if !math.IsInf(lo.value, 0) {
			q += " AND score " + loOp + " ?"
			args = append(args, lo.value)
		}
		if !math.IsInf(hi.value, 0) {
			q += " AND score " + hiOp + " ?"
			args = append(args, hi.value)
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return dropIfEmptyZSet(ctx, tx, key)
	})
	return removed, err
}

func (s *SQLite) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		k, err := s.lookupKind(ctx, tx, key)
		if err != nil || k == 0 {
			return err
		}
		if k != kindZSet {
			return ErrWrongType
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM zset_members WHERE key = ?`, key).Scan(&n)
	})
	return n, err
}

func (s *SQLite) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	var out []ScoredMember
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		k, err := s.lookupKind(ctx, tx, key)
		if err != nil || k == 0 {
			return err
		}
		if k != kindZSet {
			return ErrWrongType
		}

		var n int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM zset_members WHERE key = ?`, key).Scan(&n); err != nil {
			return err
		}
		from, to, ok := rangeIndexes(n, start, stop)
		if !ok {
			return nil
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT member, score FROM zset_members WHERE key = ?
			 ORDER BY score, member LIMIT ? OFFSET ?`,
			key, to-from+1, from)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m ScoredMember
			if err := rows.Scan(&m.Member, &m.Score); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLite) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		k, err := s.lookupKind(ctx, tx, key)
		if err != nil || k == 0 {
			return err
		}
		if ttl <= 0 {
			return deleteKey(ctx, tx, key)
		}
		_, err = tx.ExecContext(ctx, `UPDATE keyspace SET expires_at = ? WHERE key = ?`,
			s.nowMS()+ttl.Milliseconds(), key)
		return err
	})
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		k, err := s.lookupKind(ctx, tx, key)
		if err != nil || k == 0 {
			return err
		}
		if k != kindString {
			return ErrWrongType
		}
		found = true
		return tx.QueryRowContext(ctx, `SELECT value FROM keyspace WHERE key = ?`, key).Scan(&value)
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (s *SQLite) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.nowMS() + ttl.Milliseconds()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteKey(ctx, tx, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO keyspace (key, kind, value, expires_at) VALUES (?, ?, ?, ?)`,
			key, kindString, value, expiresAt)
		return err
	})
}

func (s *SQLite) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureKind(ctx, tx, key, kindString); err != nil {
			return err
		}
		var raw string
		if err := tx.QueryRowContext(ctx, `SELECT value FROM keyspace WHERE key = ?`, key).Scan(&raw); err != nil {
			return err
		}
		if raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return ErrNotInteger
			}
			n = v
		}
		n++
		_, err := tx.ExecContext(ctx, `UPDATE keyspace SET value = ? WHERE key = ?`, strconv.FormatInt(n, 10), key)
		return err
	})
	return n, err
}

func (s *SQLite) AppendCapped(ctx context.Context, log string, maxLen int64, fields map[string]string) (string, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode log fields: %w", err)
	}

	var id string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureKind(ctx, tx, log, kindLog); err != nil {
			return err
		}
		var last string
		if err := tx.QueryRowContext(ctx, `SELECT value FROM keyspace WHERE key = ?`, log).Scan(&last); err != nil {
			return err
		}
		id = nextLogID(last, s.nowMS())

		if _, err := tx.ExecContext(ctx, `UPDATE keyspace SET value = ? WHERE key = ?`, id, log); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO log_records (log, id, fields) VALUES (?, ?, ?)`, log, id, string(encoded)); err != nil {
			return err
		}
		if maxLen <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM log_records WHERE log = ? AND seq NOT IN (
				SELECT seq FROM log_records WHERE log = ? ORDER BY seq DESC LIMIT ?)`,
			log, log, maxLen)
		return err
	})
	return id, err
}

func (s *SQLite) ReadReverse(ctx context.Context, log string, count int64) ([]LogRecord, error) {
	var out []LogRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		k, err := s.lookupKind(ctx, tx, log)
		if err != nil || k == 0 {
			return err
		}
		if k != kindLog {
			return ErrWrongType
		}

		limit := count
		if limit <= 0 {
			limit = -1
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT id, fields FROM log_records WHERE log = ? ORDER BY seq DESC LIMIT ?`, log, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				rec LogRecord
				raw string
			)
			if err := rows.Scan(&rec.ID, &raw); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(raw), &rec.Fields); err != nil {
				rec.Fields = map[string]string{}
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// Keys translates the Redis glob to SQLite GLOB; both treat '*' and '?' the same way.
func (s *SQLite) Keys(ctx context.Context, pattern string, limit int) ([]string, error) {
	q := `SELECT key FROM keyspace WHERE key GLOB ? AND (expires_at = 0 OR expires_at > ?) ORDER BY key`
	args := []any{pattern, s.nowMS()}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SlidingWindow runs the window step inside one transaction.
func (s *SQLite) SlidingWindow(ctx context.Context, key string, nowMS, windowMS int64, limit int, member string) (WindowResult, error) {
	res := WindowResult{OldestScore: -1}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureKind(ctx, tx, key, kindZSet); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM zset_members WHERE key = ? AND score <= ?`, key, nowMS-windowMS); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM zset_members WHERE key = ?`, key).Scan(&res.Count); err != nil {
			return err
		}

		if res.Count < int64(limit) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zset_members (key, member, score) VALUES (?, ?, ?)
				 ON CONFLICT(key, member) DO UPDATE SET score = excluded.score`,
				key, member, nowMS); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE keyspace SET expires_at = ? WHERE key = ?`, s.nowMS()+windowMS, key); err != nil {
				return err
			}
			res.Admitted = true
		}

		var oldest sql.NullFloat64
		if err := tx.QueryRowContext(ctx,
			`SELECT MIN(score) FROM zset_members WHERE key = ?`, key).Scan(&oldest); err != nil {
			return err
		}
		if oldest.Valid {
			res.OldestScore = int64(oldest.Float64)
		}
		return dropIfEmptyZSet(ctx, tx, key)
	})
	return res, err
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle. It is idempotent.
func (s *SQLite) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
