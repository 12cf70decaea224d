package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "empathai/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite out of SQLITE_BUSY territory.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetPref(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendIncident(ctx context.Context, in Incident) error {
	in = prepareIncident(in)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents(id, at, severity, source, app, hits, fallback, presented, strategy, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.At.UTC().Format(time.RFC3339Nano), in.Severity, in.Source, nullStr(in.App),
		in.Hits, boolInt(in.Fallback), boolInt(in.Presented), nullStr(in.Strategy), nullStr(in.Error),
	)
	return err
}

func (s *sqliteStore) ListIncidents(ctx context.Context, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, severity, source, app, hits, fallback, presented, strategy, err
		 FROM incidents ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var (
			in                  Incident
			at                  string
			app, strategy, errS sql.NullString
			fallback, presented int
		)
		if err := rows.Scan(&in.ID, &at, &in.Severity, &in.Source, &app, &in.Hits, &fallback, &presented, &strategy, &errS); err != nil {
			return nil, err
		}
		in.At, _ = time.Parse(time.RFC3339Nano, at)
		in.App = app.String
		in.Strategy = strategy.String
		in.Error = errS.String
		in.Fallback = fallback != 0
		in.Presented = presented != 0
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneIncidents(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE seq NOT IN (SELECT seq FROM incidents ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if _, perr := s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
