package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriver   = "sqlite"
	postgresDriver = "postgres"

	sqlStateTableName       = "monocle_local_state"
	sqlOperationTimeout     = 5 * time.Second
	sqliteBusyTimeoutPragma = "PRAGMA busy_timeout = 5000"
)

type sqlOpenFunc func(driverName, dsn string) (*sqlx.DB, error)

// SQLStateBackend keeps the envelope as a single keyed row. It serves both
// the sqlite and postgres drivers; queries are rebound per driver.
type SQLStateBackend struct {
	driver    string
	dsn       string
	tableName string
	stateKey  string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sqlx.DB
}

func NewSQLStateBackend(driver, dsn string) (*SQLStateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	switch driver {
	case sqliteDriver, postgresDriver:
	default:
		return nil, fmt.Errorf("%w: sql driver %s", ErrNotImplemented, driver)
	}
	return &SQLStateBackend{
		driver:    driver,
		dsn:       dsn,
		tableName: sqlStateTableName,
		stateKey:  StorageKey,
		openDB:    sqlx.Open,
	}, nil
}

func (b *SQLStateBackend) LoadRaw() ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf("SELECT snapshot FROM %s WHERE state_key = ?", quoteIdentifier(b.tableName)))
	var payload string
	err := b.db.GetContext(ctx, &payload, query, b.stateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (b *SQLStateBackend) Load() (*PersistedState, error) {
	data, err := b.LoadRaw()
	if err != nil || data == nil {
		return nil, err
	}
	var snapshot PersistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *SQLStateBackend) Save(state *PersistedState) error {
	if b == nil || state == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := b.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`, quoteIdentifier(b.tableName)))
	_, err = b.db.ExecContext(ctx, query, b.stateKey, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (b *SQLStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLStateBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		db, err := b.openDB(b.driver, b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		if b.driver == sqliteDriver {
			db.SetMaxOpenConns(1)
			if _, err := db.ExecContext(ctx, sqliteBusyTimeoutPragma); err != nil {
				_ = db.Close()
				b.initErr = err
				return
			}
		}
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`, quoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
