package db

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/journal"
	"github.com/amirphl/trading-simulator/internal/trader"
)

type MemoryStorage struct {
	mu sync.RWMutex

	ledgers  map[string]LedgerRecord
	settings *config.Settings
	traders  map[string]trader.Profile
	teams    map[string]trader.Team
	sessions map[string]trader.Session

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		ledgers:  make(map[string]LedgerRecord),
		traders:  make(map[string]trader.Profile),
		teams:    make(map[string]trader.Team),
		sessions: make(map[string]trader.Session),
		events:   make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

// -------- LedgerStore --------

func (m *MemoryStorage) LoadLedger(_ context.Context, key string) (LedgerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ledgers[key]
	if !ok {
		return LedgerRecord{}, ErrNotFound
	}
	r.Data = append([]byte(nil), r.Data...)
	return r, nil
}

func (m *MemoryStorage) SaveLedger(_ context.Context, key string, expected int64, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.ledgers[key]
	var version int64
	if ok {
		version = cur.Version
	}
	if version != expected {
		return version, ErrVersionConflict
	}
	next := LedgerRecord{Key: key, Version: version + 1, Data: append([]byte(nil), data...), UpdatedAt: time.Now().UTC()}
	m.ledgers[key] = next
	return next.Version, nil
}

func (m *MemoryStorage) ListLedgerKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.ledgers))
	for k := range m.ledgers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// -------- SettingsStore --------

func (m *MemoryStorage) LoadSettings(_ context.Context) (config.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return config.Settings{}, ErrNotFound
	}
	return *m.settings, nil
}

func (m *MemoryStorage) SaveSettings(_ context.Context, s config.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}

// -------- trader.Store --------

func (m *MemoryStorage) CreateTrader(_ context.Context, p trader.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.traders {
		if x.Name == p.Name {
			return trader.ErrNameTaken
		}
	}
	m.traders[p.ID] = p
	return nil
}

func (m *MemoryStorage) GetTrader(_ context.Context, id string) (trader.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.traders[id]
	if !ok {
		return trader.Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStorage) GetTraderByName(_ context.Context, name string) (trader.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.traders {
		if p.Name == name {
			return p, nil
		}
	}
	return trader.Profile{}, ErrNotFound
}

func (m *MemoryStorage) UpdateTrader(_ context.Context, p trader.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traders[p.ID]; !ok {
		return ErrNotFound
	}
	m.traders[p.ID] = p
	return nil
}

func (m *MemoryStorage) ListTraders(_ context.Context) ([]trader.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]trader.Profile, 0, len(m.traders))
	for _, p := range m.traders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneTeam(t trader.Team) trader.Team {
	t.Members = append([]string(nil), t.Members...)
	return t
}

func (m *MemoryStorage) CreateTeam(_ context.Context, t trader.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.teams {
		if x.Name == t.Name {
			return trader.ErrNameTaken
		}
	}
	m.teams[t.ID] = cloneTeam(t)
	return nil
}

func (m *MemoryStorage) GetTeam(_ context.Context, id string) (trader.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[id]
	if !ok {
		return trader.Team{}, ErrNotFound
	}
	return cloneTeam(t), nil
}

func (m *MemoryStorage) GetTeamByInvite(_ context.Context, code string) (trader.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.teams {
		if t.InviteCode == code {
			return cloneTeam(t), nil
		}
	}
	return trader.Team{}, ErrNotFound
}

func (m *MemoryStorage) UpdateTeam(_ context.Context, t trader.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[t.ID]; !ok {
		return ErrNotFound
	}
	m.teams[t.ID] = cloneTeam(t)
	return nil
}

func (m *MemoryStorage) ListTeams(_ context.Context) ([]trader.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]trader.Team, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, cloneTeam(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) CreateSession(_ context.Context, sess trader.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traders[sess.TraderID]; !ok {
		return ErrNotFound
	}
	m.sessions[sess.TokenHash] = sess
	return nil
}

func (m *MemoryStorage) GetSession(_ context.Context, tokenHash string) (trader.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[tokenHash]
	if !ok {
		return trader.Session{}, ErrNotFound
	}
	return sess, nil
}

// -------- Journaler --------

func (m *MemoryStorage) LogEvent(_ context.Context, e journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Time = e.Time.UTC()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStorage) GetEvents(_ context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type != eventType || e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
