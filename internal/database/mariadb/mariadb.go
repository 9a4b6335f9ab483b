// Package mariadb is the MariaDB/MySQL backend. Vectors are stored as BLOBs
// and compared in process.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.Register("mariadb", func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		return NewStore(pool), nil
	})
}

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// connectorConfig parses the DSN and forces the options the store relies on.
func connectorConfig(dsn string) (*mysql.Config, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	c.MultiStatements = false
	return c, nil
}

// NewPool creates a new MariaDB connection pool.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	mc, err := connectorConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS persons (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		display_name VARCHAR(255) NOT NULL,
		attributes LONGTEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_persons_name (display_name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		person_id VARCHAR(64) NOT NULL,
		embedding BLOB NOT NULL,
		source_ref VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_embeddings_source (person_id, source_ref),
		CONSTRAINT fk_embeddings_person FOREIGN KEY (person_id) REFERENCES persons (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS person_groups (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		guide_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id VARCHAR(64) NOT NULL,
		person_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (group_id, person_id),
		INDEX idx_group_members_person (person_id),
		CONSTRAINT fk_group_members_group FOREIGN KEY (group_id) REFERENCES person_groups (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS pending_enrollments (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		person_id VARCHAR(64) NOT NULL,
		fields LONGTEXT NOT NULL,
		photo_refs LONGTEXT NOT NULL,
		group_id VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		result LONGTEXT NULL,
		submitted_at DATETIME(6) NOT NULL,
		decided_at DATETIME(6) NULL,
		INDEX idx_pending_status (status, submitted_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables. Statements are idempotent.
func (p *Pool) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// MySQL error numbers the store maps to domain errors.
const (
	errNoReferencedRow = 1452
)

func isForeignKeyViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errNoReferencedRow
}
