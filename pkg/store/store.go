// Package store persists tasks, artifacts, messages, and the bookmark
// corpus on database/sql. SQLite backs development and tests, Postgres
// backs deployments; queries are written with ? placeholders and
// rebound per dialect.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
)

var (
	// ErrNotFound marks a lookup of a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a compare-and-set that lost to a concurrent writer.
	ErrConflict = errors.New("conflict")
	// ErrArtifactExists marks a second write to an immutable artifact slot.
	ErrArtifactExists = errors.New("artifact already exists")
	// ErrInvalidTransition marks a task status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store wraps a SQL database with dialect-aware helpers.
type Store struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

// Open connects to the configured database and creates the schema.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	dsn := cfg.DSN
	if driver == "sqlite" {
		driver = "sqlite3"
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)

	s := &Store{db: db, dialect: cfg.Driver, logger: logger.GetLogger()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN enables foreign key enforcement via the DSN so the pragma
// applies to every pooled connection, not just the one that happens to
// run it.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// OpenMemory opens a fresh in-memory SQLite store, used by tests. Each
// call gets an isolated database.
func OpenMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	return Open(&config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      dsn,
		MaxConns: 1,
		MaxIdle:  1,
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $1..$N for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *Store) initSchema() error {
	text := "TEXT"
	boolType := "BOOLEAN"
	timestamp := "TIMESTAMP"
	if s.dialect == "postgres" {
		timestamp = "TIMESTAMPTZ"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
			id            %[1]s PRIMARY KEY,
			type          %[1]s NOT NULL,
			status        %[1]s NOT NULL,
			workflow_type %[1]s NOT NULL,
			agents        %[1]s NOT NULL,
			current_agent %[1]s NOT NULL DEFAULT '',
			current_step  INTEGER NOT NULL DEFAULT 0,
			total_steps   INTEGER NOT NULL,
			context       %[1]s NOT NULL DEFAULT '{}',
			metadata      %[1]s NOT NULL DEFAULT '{}',
			user_id       %[1]s NOT NULL,
			error_message %[1]s NOT NULL DEFAULT '',
			created       %[2]s NOT NULL,
			updated       %[2]s NOT NULL
		)`, text, timestamp),
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS artifacts (
			id         %[1]s PRIMARY KEY,
			task_id    %[1]s NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			agent_type %[1]s NOT NULL,
			type       %[1]s NOT NULL,
			mime_type  %[1]s NOT NULL,
			data       %[1]s NOT NULL,
			size_bytes INTEGER NOT NULL,
			checksum   %[1]s NOT NULL,
			created    %[2]s NOT NULL,
			UNIQUE(task_id, agent_type, type)
		)`, text, timestamp),
		`CREATE INDEX IF NOT EXISTS idx_artifacts_task ON artifacts(task_id, created)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id         %[1]s PRIMARY KEY,
			task_id    %[1]s NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			agent_type %[1]s NOT NULL DEFAULT '',
			type       %[1]s NOT NULL,
			content    %[1]s NOT NULL,
			seq        INTEGER NOT NULL,
			timestamp  %[2]s NOT NULL,
			metadata   %[1]s NOT NULL DEFAULT '{}',
			UNIQUE(task_id, seq)
		)`, text, timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bookmarks (
			id                %[1]s PRIMARY KEY,
			user_id           %[1]s NOT NULL,
			url               %[1]s NOT NULL,
			url_hash          %[1]s NOT NULL,
			title             %[1]s NOT NULL DEFAULT '',
			description       %[1]s NOT NULL DEFAULT '',
			folder_path       %[1]s NOT NULL DEFAULT '',
			favicon_url       %[1]s NOT NULL DEFAULT '',
			tags              %[1]s NOT NULL DEFAULT '[]',
			import_id         %[1]s NOT NULL DEFAULT '',
			is_valid          %[3]s,
			last_validated_at %[2]s,
			validation_errors %[1]s NOT NULL DEFAULT '[]',
			metadata          %[1]s NOT NULL DEFAULT '{}',
			ai_tags           %[1]s NOT NULL DEFAULT '[]',
			ai_summary        %[1]s NOT NULL DEFAULT '',
			enrichment_data   %[1]s NOT NULL DEFAULT '{}',
			category_id       %[1]s NOT NULL DEFAULT '',
			created_at        %[2]s NOT NULL,
			updated_at        %[2]s NOT NULL,
			UNIQUE(user_id, url)
		)`, text, timestamp, boolType),
		`CREATE INDEX IF NOT EXISTS idx_bookmarks_import ON bookmarks(import_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookmarks_user ON bookmarks(user_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS categories (
			id         %[1]s PRIMARY KEY,
			user_id    %[1]s NOT NULL,
			name       %[1]s NOT NULL,
			color      %[1]s NOT NULL DEFAULT '',
			created_at %[2]s NOT NULL,
			UNIQUE(user_id, name)
		)`, text, timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS category_rules (
			id          %[1]s PRIMARY KEY,
			user_id     %[1]s NOT NULL,
			rule_type   %[1]s NOT NULL,
			pattern     %[1]s NOT NULL,
			category_id %[1]s NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			priority    INTEGER NOT NULL DEFAULT 0,
			created_at  %[2]s NOT NULL
		)`, text, timestamp),
		`CREATE INDEX IF NOT EXISTS idx_rules_user ON category_rules(user_id, priority)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS import_history (
			id              %[1]s PRIMARY KEY,
			user_id         %[1]s NOT NULL,
			filename        %[1]s NOT NULL DEFAULT '',
			total_bookmarks INTEGER NOT NULL DEFAULT 0,
			inserted_count  INTEGER NOT NULL DEFAULT 0,
			duplicate_count INTEGER NOT NULL DEFAULT 0,
			status          %[1]s NOT NULL,
			created_at      %[2]s NOT NULL,
			completed_at    %[2]s
		)`, text, timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_cards (
			agent_type     %[1]s PRIMARY KEY,
			version        %[1]s NOT NULL,
			status         %[1]s NOT NULL,
			card           %[1]s NOT NULL,
			last_heartbeat %[2]s,
			updated        %[2]s NOT NULL
		)`, text, timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bookmark_embeddings (
			bookmark_id %[1]s PRIMARY KEY REFERENCES bookmarks(id) ON DELETE CASCADE,
			user_id     %[1]s NOT NULL,
			model       %[1]s NOT NULL,
			dimension   INTEGER NOT NULL,
			created_at  %[2]s NOT NULL
		)`, text, timestamp),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure
// on either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
