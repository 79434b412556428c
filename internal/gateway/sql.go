package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLConfig configures the SQL-backed gateway.
type SQLConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=postgres sqlite3"`
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SQLGateway stores each collection as a document table
// (id TEXT PRIMARY KEY, body JSON) in PostgreSQL or SQLite.
type SQLGateway struct {
	logger *zap.Logger
	db     *sqlx.DB

	mu      sync.Mutex
	ensured map[string]bool
}

// OpenSQL connects to the configured database and returns a gateway over it.
func OpenSQL(logger *zap.Logger, config SQLConfig) (*SQLGateway, error) {
	switch config.Driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported gateway driver: %s", config.Driver)
	}

	db, err := sqlx.Connect(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Driver, err)
	}

	if config.Driver == "sqlite3" && strings.Contains(config.DSN, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	logger.Info("Entity gateway connected", zap.String("driver", config.Driver))
	return NewSQLGateway(logger, db), nil
}

// NewSQLGateway wraps an existing connection.
func NewSQLGateway(logger *zap.Logger, db *sqlx.DB) *SQLGateway {
	return &SQLGateway{
		logger:  logger.Named("sql_gateway"),
		db:      db,
		ensured: make(map[string]bool),
	}
}

// Close closes the underlying connection pool.
func (g *SQLGateway) Close() error {
	return g.db.Close()
}

// Fetch returns the records of a collection ordered by primary key.
func (g *SQLGateway) Fetch(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	if err := g.ensureTable(ctx, collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT body FROM %s", collection)
	var args []any
	if !filter.IsZero() {
		expr, err := g.fieldExpr(filter.Field)
		if err != nil {
			return nil, err
		}
		query += " WHERE " + expr + " = ?"
		args = append(args, filter.Value)
	}
	query += " ORDER BY id"

	var bodies []string
	if err := g.db.SelectContext(ctx, &bodies, g.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", collection, err)
	}

	records := make([]Record, 0, len(bodies))
	for _, body := range bodies {
		rec, err := decodeRecord([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", collection, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Upsert writes records in one transaction.
func (g *SQLGateway) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := g.ensureTable(ctx, collection); err != nil {
		return err
	}

	valueExpr := "?"
	if g.db.DriverName() == "postgres" {
		valueExpr = "CAST(? AS JSONB)"
	}
	query := g.db.Rebind(fmt.Sprintf(
		"INSERT INTO %s (id, body, updated_at) VALUES (?, %s, CURRENT_TIMESTAMP) "+
			"ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at",
		collection, valueExpr))

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert for %s: %w", collection, err)
	}
	defer stmt.Close()

	for i, rec := range records {
		id, ok := rec.ID()
		if !ok {
			return fmt.Errorf("%s: record %d has no %q", collection, i, PrimaryKey)
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%s: failed to encode record %s: %w", collection, id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, string(body)); err != nil {
			return fmt.Errorf("%s: failed to upsert record %s: %w", collection, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", collection, err)
	}

	g.logger.Debug("Upserted records",
		zap.String("collection", collection),
		zap.Int("count", len(records)),
	)
	return nil
}

func (g *SQLGateway) ensureTable(ctx context.Context, collection string) error {
	if !identifierPattern.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ensured[collection] {
		return nil
	}

	bodyType := "TEXT"
	if g.db.DriverName() == "postgres" {
		bodyType = "JSONB"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		body %s NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, collection, bodyType)
	if _, err := g.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", collection, err)
	}

	g.ensured[collection] = true
	return nil
}

func (g *SQLGateway) fieldExpr(field string) (string, error) {
	if !identifierPattern.MatchString(field) {
		return "", fmt.Errorf("invalid filter field %q", field)
	}
	if field == PrimaryKey {
		return "id", nil
	}
	if g.db.DriverName() == "postgres" {
		return fmt.Sprintf("body->>'%s'", field), nil
	}
	return fmt.Sprintf("CAST(json_extract(body, '$.%s') AS TEXT)", field), nil
}

func decodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}
