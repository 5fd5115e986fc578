package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	errx "github.com/chattabot/agent/internal/core/error"
	logx "github.com/chattabot/agent/pkg/logger"
)

const DefaultTTLIndexName = "for_deletion"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id            TEXT    NOT NULL,
	checkpoint_ns        TEXT    NOT NULL DEFAULT '',
	checkpoint_id        TEXT    NOT NULL,
	parent_checkpoint_id TEXT,
	type                 TEXT    NOT NULL,
	checkpoint           BLOB    NOT NULL,
	metadata             TEXT    NOT NULL,
	created_at           INTEGER NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
);
CREATE TABLE IF NOT EXISTS checkpoint_writes (
	thread_id     TEXT    NOT NULL,
	checkpoint_ns TEXT    NOT NULL DEFAULT '',
	checkpoint_id TEXT    NOT NULL,
	task_id       TEXT    NOT NULL,
	idx           INTEGER NOT NULL,
	channel       TEXT    NOT NULL,
	type          TEXT    NOT NULL,
	value         BLOB    NOT NULL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
);
CREATE INDEX IF NOT EXISTS checkpoint_writes_created_at ON checkpoint_writes (created_at);`

type SQLiteOptions struct {
	TTL       time.Duration
	IndexName string
	// Compress gzip-compresses checkpoint blobs.
	Compress bool
}

// SQLiteSaver stores checkpoints in two SQLite tables. Expired rows are reaped by Sweep.
type SQLiteSaver struct {
	db        *sql.DB
	ttl       time.Duration
	indexName string
	compress  bool
	now       func() time.Time
}

// NewSQLiteSaver creates the tables and the TTL index.
func NewSQLiteSaver(ctx context.Context, db *sql.DB, opts SQLiteOptions) (*SQLiteSaver, error) {
	if opts.IndexName == "" {
		opts.IndexName = DefaultTTLIndexName
	}
	s := &SQLiteSaver{
		db:        db,
		ttl:       opts.TTL,
		indexName: opts.IndexName,
		compress:  opts.Compress,
		now:       time.Now,
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create checkpoint tables: %w", errx.WrapSQL(err))
	}
	if err := s.EnsureTTLIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSaver) indexSQL() string {
	return fmt.Sprintf("CREATE INDEX %s ON checkpoints (created_at)", s.indexName)
}

// EnsureTTLIndex creates the expiry index; a same-named index with a different definition is dropped and recreated.
func (s *SQLiteSaver) EnsureTTLIndex(ctx context.Context) error {
	want := s.indexSQL()
	for attempt := 0; attempt < 2; attempt++ {
		var existing sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?`, s.indexName).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := s.db.ExecContext(ctx, want); err != nil {
				return fmt.Errorf("create ttl index: %w", errx.WrapSQL(err))
			}
			return nil
		case err != nil:
			return fmt.Errorf("inspect ttl index: %w", errx.WrapSQL(err))
		}

		if normalizeSQL(existing.String) == normalizeSQL(want) {
			return nil
		}
		logx.Warn().Str("index", s.indexName).Str("existing", existing.String).Msg("TTL index definition differs, recreating")
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP INDEX %s", s.indexName)); err != nil {
			return fmt.Errorf("drop ttl index: %w", errx.WrapSQL(err))
		}
	}
	return fmt.Errorf("ttl index %s could not be repaired", s.indexName)
}

func normalizeSQL(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func (s *SQLiteSaver) Put(ctx context.Context, cfg Config, cp Checkpoint, md Metadata) (Config, error) {
	typ, blob, err := dumpsTyped(cp, s.compress)
	if err != nil {
		return Config{}, errx.WrapCheckpointWrite(fmt.Errorf("encode checkpoint: %w", err))
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return Config{}, errx.WrapCheckpointWrite(fmt.Errorf("encode metadata: %w", err))
	}

	var parent sql.NullString
	if cfg.CheckpointID != "" {
		parent = sql.NullString{String: cfg.CheckpointID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, type, checkpoint, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id) DO UPDATE SET
			parent_checkpoint_id = excluded.parent_checkpoint_id,
			type = excluded.type,
			checkpoint = excluded.checkpoint,
			metadata = excluded.metadata,
			created_at = excluded.created_at`,
		cfg.ThreadID, cfg.Namespace, cp.ID, parent, typ, blob, string(mdJSON), s.now().UnixNano())
	if err != nil {
		return Config{}, errx.WrapCheckpointWrite(errx.WrapSQL(err))
	}
	return Config{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: cp.ID}, nil
}

func (s *SQLiteSaver) PutWrites(ctx context.Context, cfg Config, writes []Write, taskID string) error {
	if cfg.CheckpointID == "" {
		return errx.WrapCheckpointWrite(errors.New("put writes: missing checkpoint id"))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapCheckpointWrite(errx.WrapSQL(err))
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixNano()
	for idx, w := range writes {
		typ, blob, err := dumpsTyped(w.Value, false)
		if err != nil {
			return errx.WrapCheckpointWrite(fmt.Errorf("encode write %d: %w", idx, err))
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id, task_id, idx) DO UPDATE SET
				channel = excluded.channel,
				type = excluded.type,
				value = excluded.value,
				created_at = excluded.created_at`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID, taskID, idx, w.Channel, typ, blob, now)
		if err != nil {
			return errx.WrapCheckpointWrite(errx.WrapSQL(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errx.WrapCheckpointWrite(errx.WrapSQL(err))
	}
	return nil
}

type checkpointRow struct {
	threadID, ns, id string
	parent           sql.NullString
	typ              string
	blob             []byte
	metadata         string
	createdAt        int64
}

func (r checkpointRow) tuple() (*Tuple, error) {
	t := &Tuple{
		Config:    Config{ThreadID: r.threadID, Namespace: r.ns, CheckpointID: r.id},
		CreatedAt: time.Unix(0, r.createdAt),
	}
	if err := loadsTyped(r.typ, r.blob, &t.Checkpoint); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", r.id, err)
	}
	if err := json.Unmarshal([]byte(r.metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", r.id, err)
	}
	t.ParentConfig = parentOf(t.Config, r.parent.String)
	return t, nil
}

const selectCheckpoint = `SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, type, checkpoint, metadata, created_at FROM checkpoints`

func scanCheckpoint(sc interface{ Scan(...any) error }) (checkpointRow, error) {
	var r checkpointRow
	err := sc.Scan(&r.threadID, &r.ns, &r.id, &r.parent, &r.typ, &r.blob, &r.metadata, &r.createdAt)
	return r, err
}

func (s *SQLiteSaver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	var row *sql.Row
	if cfg.CheckpointID != "" {
		row = s.db.QueryRowContext(ctx, selectCheckpoint+`
			WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	} else {
		row = s.db.QueryRowContext(ctx, selectCheckpoint+`
			WHERE thread_id = ? AND checkpoint_ns = ?
			ORDER BY checkpoint_id DESC LIMIT 1`,
			cfg.ThreadID, cfg.Namespace)
	}

	r, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(errx.WrapSQL(err), errx.ErrNotFound) {
			return nil, nil
		}
		return nil, errx.WrapSQL(err)
	}
	t, err := r.tuple()
	if err != nil {
		logx.Warn().Err(err).Str("thread_id", cfg.ThreadID).Msg("Unreadable checkpoint treated as missing")
		return nil, nil
	}

	writes, err := s.pendingWrites(ctx, t.Config)
	if err != nil {
		return nil, err
	}
	t.PendingWrites = writes
	return t, nil
}

func (s *SQLiteSaver) pendingWrites(ctx context.Context, cfg Config) ([]PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, idx, channel, type, value FROM checkpoint_writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		ORDER BY task_id, idx`,
		cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	if err != nil {
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var (
			pw   PendingWrite
			typ  string
			blob []byte
		)
		if err := rows.Scan(&pw.TaskID, &pw.Idx, &pw.Channel, &typ, &blob); err != nil {
			return nil, errx.WrapSQL(err)
		}
		if err := loadsTyped(typ, blob, &pw.Value); err != nil {
			logx.Warn().Err(err).Str("task_id", pw.TaskID).Msg("Skipping unreadable pending write")
			continue
		}
		out = append(out, pw)
	}
	return out, errx.WrapSQL(rows.Err())
}

func (s *SQLiteSaver) List(ctx context.Context, cfg *Config, opts ListOptions) ([]*Tuple, error) {
	query := selectCheckpoint
	var args []any
	var where []string
	if cfg != nil {
		where = append(where, "thread_id = ?", "checkpoint_ns = ?")
		args = append(args, cfg.ThreadID, cfg.Namespace)
	}
	if opts.Before != nil && opts.Before.CheckpointID != "" {
		where = append(where, "checkpoint_id < ?")
		args = append(args, opts.Before.CheckpointID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY checkpoint_id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()

	var tuples []*Tuple
	for rows.Next() {
		r, err := scanCheckpoint(rows)
		if err != nil {
			return nil, errx.WrapSQL(err)
		}
		t, err := r.tuple()
		if err != nil {
			logx.Warn().Err(err).Msg("Skipping unreadable checkpoint")
			continue
		}
		tuples = append(tuples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}
	return finishList(tuples, opts), nil
}

func (s *SQLiteSaver) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapSQL(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_writes WHERE thread_id = ?`, threadID); err != nil {
		return errx.WrapSQL(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return errx.WrapSQL(err)
	}
	return errx.WrapSQL(tx.Commit())
}

// Sweep deletes checkpoints and writes older than the TTL. It reports how many checkpoints were removed.
func (s *SQLiteSaver) Sweep(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl).UnixNano()

	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errx.WrapSQL(err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoint_writes WHERE created_at < ?`, cutoff); err != nil {
		return 0, errx.WrapSQL(err)
	}
	return res.RowsAffected()
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *SQLiteSaver) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || s.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logx.Error().Err(err).Msg("Checkpoint sweep failed")
				continue
			}
			if n > 0 {
				logx.Debug().Int64("removed", n).Msg("Expired checkpoints removed")
			}
		}
	}
}
