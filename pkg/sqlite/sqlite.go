package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path        string `split_words:"true" default:"data/chattabot.db"`
	BusyTimeout int    `split_words:"true" default:"5000"`
	MaxConns    int    `split_words:"true" default:"4"`
}

// Open opens (creating if needed) the SQLite database with WAL enabled.
func (c *Config) Open() (*sql.DB, error) {
	if c.Path != ":memory:" {
		if dir := filepath.Dir(c.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		c.Path, c.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if c.MaxConns > 0 {
		db.SetMaxOpenConns(c.MaxConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
