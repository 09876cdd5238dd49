package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"cartograph/internal/repository"
)

// Repository implements repository.Graph using SQLite
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repository.Graph = (*Repository)(nil)

// dsnPragmas are applied to every connection the driver opens
const dsnPragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for a throwaway database.
func New(dbPath string, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dbPath+"?"+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite allows a single writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db, logger: logger.Named("sqlite")}
	if err := repo.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	repo.logger.Debug("database opened", zap.String("path", dbPath))
	return repo, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS machine (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS domain (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS service (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		machine_id INTEGER NOT NULL REFERENCES machine(id) ON DELETE CASCADE,
		port INTEGER NOT NULL,
		protocol TEXT,
		name TEXT,
		product TEXT,
		version TEXT,
		status TEXT,
		kind TEXT NOT NULL DEFAULT 'plain',
		url TEXT,
		UNIQUE (machine_id, port)
	);

	CREATE TABLE IF NOT EXISTS "user" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		machine_id INTEGER REFERENCES machine(id) ON DELETE SET NULL,
		smb_rid TEXT
	);

	CREATE TABLE IF NOT EXISTS "group" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		machine_id INTEGER REFERENCES machine(id) ON DELETE SET NULL,
		smb_rid TEXT
	);

	CREATE TABLE IF NOT EXISTS credential (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		password TEXT,
		confidence INTEGER NOT NULL DEFAULT 0,
		user_id INTEGER REFERENCES "user"(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS note (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_type TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		interest INTEGER NOT NULL DEFAULT 0,
		source TEXT,
		confidence INTEGER,
		UNIQUE (owner_type, owner_id, title)
	);

	CREATE TABLE IF NOT EXISTS domain_machine (
		domain_id INTEGER NOT NULL REFERENCES domain(id) ON DELETE CASCADE,
		machine_id INTEGER NOT NULL REFERENCES machine(id) ON DELETE CASCADE,
		PRIMARY KEY (domain_id, machine_id)
	);

	CREATE TABLE IF NOT EXISTS user_group (
		user_id INTEGER NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
		group_id INTEGER NOT NULL REFERENCES "group"(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, group_id)
	);

	CREATE TABLE IF NOT EXISTS service_credential (
		service_id INTEGER NOT NULL REFERENCES service(id) ON DELETE CASCADE,
		credential_id INTEGER NOT NULL REFERENCES credential(id) ON DELETE CASCADE,
		PRIMARY KEY (service_id, credential_id)
	);

	CREATE TABLE IF NOT EXISTS user_alias (
		user_id INTEGER NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		PRIMARY KEY (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS job (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_credential_username ON credential(username);
	CREATE INDEX IF NOT EXISTS idx_credential_user ON credential(user_id);
	CREATE INDEX IF NOT EXISTS idx_user_machine ON "user"(machine_id);
	CREATE INDEX IF NOT EXISTS idx_group_machine ON "group"(machine_id);
	CREATE INDEX IF NOT EXISTS idx_domain_machine_machine ON domain_machine(machine_id);
	CREATE INDEX IF NOT EXISTS idx_user_group_group ON user_group(group_id);
	CREATE INDEX IF NOT EXISTS idx_service_credential_credential ON service_credential(credential_id);
	CREATE INDEX IF NOT EXISTS idx_user_alias_name ON user_alias(name);
	CREATE INDEX IF NOT EXISTS idx_job_status ON job(status);
	`

	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Update runs fn in a read-write transaction
func (r *Repository) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	return r.run(ctx, false, fn)
}

// View runs fn in a read-only transaction
func (r *Repository) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	return r.run(ctx, true, fn)
}

func (r *Repository) run(ctx context.Context, readOnly bool, fn func(tx repository.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return wrapErr("begin transaction", err)
	}

	if err := fn(&tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			r.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
