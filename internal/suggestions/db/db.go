package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrDatabaseClosed is returned when an operation is attempted on a closed database.
var ErrDatabaseClosed = errors.New("database is closed")

const (
	// walCheckpointInterval is how often we checkpoint the WAL file
	// to prevent unbounded growth in a long-running server.
	walCheckpointInterval = 5 * time.Minute

	defaultBusyTimeout = 5 * time.Second
)

// DB is the database wrapper shared by the settings, visibility, feedback
// and metrics stores. It manages the SQLite connection, migrations, and
// lifecycle.
type DB struct {
	closeErr  error
	db        *sql.DB
	logger    *slog.Logger
	stopCh    chan struct{}
	stoppedCh chan struct{}
	dbPath    string
	closeOnce sync.Once
}

// Options configures database initialization.
type Options struct {
	Logger      *slog.Logger
	Path        string
	BusyTimeout time.Duration
	ReadOnly    bool
}

// DefaultDBPath returns the default database path (~/.tidum/suggestions.db).
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tidum", "suggestions.db"), nil
}

// Open opens the database and runs migrations.
// The caller must call Close() when done.
func Open(ctx context.Context, opts Options) (*DB, error) {
	dbPath := opts.Path
	if dbPath == "" {
		var err error
		if dbPath, err = DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(dbPath), 0o750); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", mkdirErr)
	}

	sqlDB, err := openAndInit(ctx, dbPath, opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &DB{
		db:        sqlDB,
		logger:    logger,
		dbPath:    dbPath,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	if !opts.ReadOnly {
		go d.walCheckpointLoop()
	} else {
		close(d.stoppedCh)
	}
	return d, nil
}

// openAndInit opens the SQLite database, configures it, pings it, and
// runs migrations.
func openAndInit(ctx context.Context, dbPath string, opts Options) (*sql.DB, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	// modernc.org/sqlite uses _pragma=name(value) syntax
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		dbPath, busy.Milliseconds())
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles concurrency better with single writer. The single
	// connection also serializes the compare-and-swap updates of the
	// visibility throttle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if !opts.ReadOnly {
		if err := RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection.
// It is safe to call Close multiple times.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.stopCh != nil {
			close(d.stopCh)
			<-d.stoppedCh
		}

		if d.db != nil {
			// Final checkpoint before closing to merge WAL into main db
			_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			d.closeErr = d.db.Close()
		}
	})
	return d.closeErr
}

// DB returns the underlying sql.DB for the stores.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Path returns the path to the database file.
func (d *DB) Path() string {
	return d.dbPath
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (d *DB) Ping(ctx context.Context) error {
	if d.db == nil {
		return ErrDatabaseClosed
	}
	return d.db.PingContext(ctx)
}

func (d *DB) walCheckpointLoop() {
	defer close(d.stoppedCh)

	ticker := time.NewTicker(walCheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if _, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				d.logger.Warn("WAL checkpoint failed", "error", err)
			}
		}
	}
}

// Validate checks that the schema is correctly initialized.
func (d *DB) Validate(ctx context.Context) error {
	return ValidateSchema(ctx, d.db)
}

// Version returns the current schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	return GetSchemaVersion(ctx, d.db)
}
