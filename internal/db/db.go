// Package db
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/journal"
	"github.com/amirphl/trading-simulator/internal/trader"
)

var (
	// ErrNotFound aliases trader.ErrNotFound so one check covers every store.
	ErrNotFound        = trader.ErrNotFound
	ErrVersionConflict = errors.New("ledger version conflict")
)

// LedgerRecord is a stored ledger snapshot. Version starts at 1 on first save
// and increments on every write.
type LedgerRecord struct {
	Key       string
	Version   int64
	Data      []byte
	UpdatedAt time.Time
}

// LedgerStore persists ledger snapshots with an optimistic version counter.
// SaveLedger succeeds only when expected matches the stored version (0 for a
// new key) and returns the new version.
type LedgerStore interface {
	LoadLedger(ctx context.Context, key string) (LedgerRecord, error)
	SaveLedger(ctx context.Context, key string, expected int64, data []byte) (int64, error)
	ListLedgerKeys(ctx context.Context) ([]string, error)
}

// SettingsStore persists the admin configuration.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (config.Settings, error)
	SaveSettings(ctx context.Context, s config.Settings) error
}

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	LedgerStore
	SettingsStore
	trader.Store
	journal.Journaler
}
