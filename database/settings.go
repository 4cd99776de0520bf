package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"headersmanager/logger"
	"headersmanager/storage"
)

// SettingsStore is a storage area kept in one SQLite table: one row per key, value stored
// as JSON text.
type SettingsStore struct {
	db    *sql.DB
	table string
	area  storage.Area
	quota int64

	mu       sync.RWMutex
	watchers []storage.ChangeFunc
}

// NewLocalStore is the unbounded local area, kept in app_settings.
func NewLocalStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db, table: "app_settings", area: storage.AreaLocal}
}

// NewSyncStore is the sync area used when no Redis server is configured. Writes that
// would take it past quota bytes fail with storage.ErrQuotaExceeded.
func NewSyncStore(db *sql.DB, quota int64) *SettingsStore {
	return &SettingsStore{db: db, table: "sync_settings", area: storage.AreaSync, quota: quota}
}

func (s *SettingsStore) Area() storage.Area { return s.area }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func keyArgs(keys []string) []interface{} {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SettingsStore) selectItems(ctx context.Context, q querier, keys []string) (storage.Items, error) {
	out := make(storage.Items)
	if keys != nil && len(keys) == 0 {
		return out, nil
	}
	query := "SELECT key, value FROM " + s.table
	var args []interface{}
	if keys != nil {
		query += " WHERE key IN (" + placeholders(len(keys)) + ")"
		args = keyArgs(keys)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func (s *SettingsStore) Get(ctx context.Context, keys []string) (storage.Items, error) {
	items, err := s.selectItems(ctx, s.db, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s settings: %w", s.area, err)
	}
	return items, nil
}

func (s *SettingsStore) Set(ctx context.Context, items storage.Items) error {
	if len(items) == 0 {
		return nil
	}
	changes := make(storage.Changes)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.selectItems(ctx, tx, items.Keys())
		if err != nil {
			return err
		}
		if s.quota > 0 {
			if err := s.checkQuota(ctx, tx, items, prev); err != nil {
				return err
			}
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO "+s.table+" (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for k, v := range items {
			if _, err := stmt.ExecContext(ctx, k, string(v)); err != nil {
				return fmt.Errorf("key '%s': %w", k, err)
			}
			old, existed := prev[k]
			if existed && string(old) == string(v) {
				continue
			}
			changes[k] = storage.Change{OldValue: old, NewValue: v}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s settings: %w", s.area, err)
	}
	s.notify(changes)
	return nil
}

func (s *SettingsStore) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	changes := make(storage.Changes)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.selectItems(ctx, tx, keys)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.table+" WHERE key IN ("+placeholders(len(keys))+")", keyArgs(keys)...); err != nil {
			return err
		}
		for k, v := range prev {
			changes[k] = storage.Change{OldValue: v}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s settings: %w", s.area, err)
	}
	s.notify(changes)
	return nil
}

func (s *SettingsStore) Clear(ctx context.Context) error {
	changes := make(storage.Changes)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := s.selectItems(ctx, tx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.table); err != nil {
			return err
		}
		for k, v := range prev {
			changes[k] = storage.Change{OldValue: v}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear %s settings: %w", s.area, err)
	}
	s.notify(changes)
	return nil
}

func (s *SettingsStore) BytesInUse(ctx context.Context) (int64, error) {
	n, err := s.bytesInUse(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s settings: %w", s.area, err)
	}
	return n, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SettingsStore) bytesInUse(ctx context.Context, q rowQuerier) (int64, error) {
	var n sql.NullInt64
	err := q.QueryRowContext(ctx, "SELECT SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))) FROM "+s.table).Scan(&n)
	return n.Int64, err
}

// checkQuota fails when replacing prev with items would take the table past its quota.
func (s *SettingsStore) checkQuota(ctx context.Context, tx *sql.Tx, items, prev storage.Items) error {
	used, err := s.bytesInUse(ctx, tx)
	if err != nil {
		return err
	}
	for k, v := range prev {
		used -= storage.ItemSize(k, v)
	}
	for k, v := range items {
		used += storage.ItemSize(k, v)
	}
	if used > s.quota {
		return fmt.Errorf("%w: %d bytes over a quota of %d", storage.ErrQuotaExceeded, used, s.quota)
	}
	return nil
}

func (s *SettingsStore) Watch(fn storage.ChangeFunc) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

func (s *SettingsStore) notify(changes storage.Changes) {
	if len(changes) == 0 {
		return
	}
	s.mu.RLock()
	watchers := append([]storage.ChangeFunc(nil), s.watchers...)
	s.mu.RUnlock()
	for _, fn := range watchers {
		fn(s.area, changes)
	}
}

func (s *SettingsStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("SettingsStore(%s): rollback failed: %v", s.table, rbErr)
		}
		return err
	}
	return tx.Commit()
}
