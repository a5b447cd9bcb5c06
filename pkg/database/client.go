// Package database manages the embedded sqlite store: opening the database,
// applying schema migrations, and health checking.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Client wraps the sql.DB handle for the agent's sqlite database.
type Client struct {
	db   *sql.DB
	path string
}

// NewClient opens (creating if needed) the sqlite database at path and runs
// pending migrations.
func NewClient(path string) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{"journal_mode(WAL)", "foreign_keys(ON)", "busy_timeout(5000)"},
	}.Encode())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// modernc sqlite serializes writes; one writer connection avoids
	// SQLITE_BUSY churn under concurrent emitters.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	client := &Client{db: db, path: path}
	if err := client.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Database ready", "path", path)
	return client, nil
}

// DB returns the underlying handle.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Health verifies the database responds.
func (c *Client) Health(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (c *Client) Close() error {
	return c.db.Close()
}
