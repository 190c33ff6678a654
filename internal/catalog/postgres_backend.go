package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresDocumentTableName = "nexusvault_documents"
	postgresOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend keeps each document as one row keyed by document name.
type PostgresBackend struct {
	dsn       string
	tableName string
	keyPrefix string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresBackend connects lazily. A "vault" query parameter namespaces
// the document keys so several vaults can share one table; it is removed
// before the DSN reaches the driver.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	dsn, vault, err := splitVaultParam(dsn)
	if err != nil {
		return nil, err
	}
	backend := &PostgresBackend{
		dsn:       dsn,
		tableName: postgresDocumentTableName,
		openDB:    sql.Open,
	}
	if vault != "" {
		backend.keyPrefix = vault + ":"
	}
	return backend, nil
}

func splitVaultParam(dsn string) (string, string, error) {
	if !strings.Contains(dsn, "://") {
		return dsn, "", nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid postgres dsn: %v", ErrInvalidInput, err)
	}
	query := parsed.Query()
	if !query.Has("vault") {
		return dsn, "", nil
	}
	vault := strings.TrimSpace(query.Get("vault"))
	query.Del("vault")
	parsed.RawQuery = query.Encode()
	return parsed.String(), vault, nil
}

func (b *PostgresBackend) Load(ctx context.Context, doc Document) ([]byte, error) {
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE doc_key = $1", postgresQuoteIdentifier(b.tableName))
	var payload string
	err := b.db.QueryRowContext(ctx, query, b.key(doc)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (b *PostgresBackend) Save(ctx context.Context, doc Document, data []byte) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (doc_key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (doc_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, postgresQuoteIdentifier(b.tableName))
	_, err := b.db.ExecContext(ctx, query, b.key(doc), string(data))
	return err
}

func (b *PostgresBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) key(doc Document) string {
	return b.keyPrefix + string(doc)
}

func (b *PostgresBackend) ensureReady(ctx context.Context) error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				doc_key TEXT PRIMARY KEY,
				payload TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
