package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/db/conf"
	"github.com/amirphl/trading-simulator/internal/journal"
	"github.com/amirphl/trading-simulator/internal/trader"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Default) queryRowWithTransaction(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return p.db.QueryRowContext(ctx, query, args...)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

type Default struct {
	db *sql.DB
}

func New(c conf.Config) (*Default, error) {
	if c.DB == nil {
		return nil, errors.New("postgres storage requires a database handle")
	}
	return &Default{db: c.DB}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// -------- LedgerStore --------

func (p *Default) LoadLedger(ctx context.Context, key string) (LedgerRecord, error) {
	r := LedgerRecord{Key: key}
	err := p.queryRowWithTransaction(ctx,
		`SELECT version, snapshot, updated_at FROM ledgers WHERE key = $1`, key).
		Scan(&r.Version, &r.Data, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerRecord{}, ErrNotFound
	}
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("failed to load ledger %s: %w", key, err)
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (p *Default) SaveLedger(ctx context.Context, key string, expected int64, data []byte) (int64, error) {
	var version int64
	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		if expected == 0 {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO ledgers (key, version, snapshot, updated_at)
				VALUES ($1, 1, $2, NOW())
				ON CONFLICT (key) DO NOTHING`, key, data)
			if err != nil {
				return fmt.Errorf("failed to insert ledger %s: %w", key, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to insert ledger %s: %w", key, err)
			}
			if n == 0 {
				return ErrVersionConflict
			}
			version = 1
			return nil
		}

		err := tx.QueryRowContext(ctx, `
			UPDATE ledgers SET version = version + 1, snapshot = $3, updated_at = NOW()
			WHERE key = $1 AND version = $2
			RETURNING version`, key, expected, data).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("failed to update ledger %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (p *Default) ListLedgerKeys(ctx context.Context) ([]string, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT key FROM ledgers ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan ledger key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// -------- SettingsStore --------

func (p *Default) LoadSettings(ctx context.Context) (config.Settings, error) {
	var data []byte
	err := p.queryRowWithTransaction(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return config.Settings{}, ErrNotFound
	}
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	var s config.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return config.Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

func (p *Default) SaveSettings(ctx context.Context, s config.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (id, data, updated_at) VALUES (1, $1, NOW())
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, data)
		if err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		return nil
	})
}

// -------- trader.Store --------

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *Default) CreateTrader(ctx context.Context, t trader.Profile) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO traders (id, name, password_hash, team_id, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			t.ID, t.Name, t.PasswordHash, nullable(t.TeamID), t.CreatedAt)
		if isUniqueViolation(err) {
			return trader.ErrNameTaken
		}
		if err != nil {
			return fmt.Errorf("failed to create trader %s: %w", t.Name, err)
		}
		return nil
	})
}

const traderColumns = `id, name, password_hash, team_id, created_at`

func scanTrader(row interface{ Scan(...any) error }) (trader.Profile, error) {
	var t trader.Profile
	var team sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &t.PasswordHash, &team, &t.CreatedAt); err != nil {
		return trader.Profile{}, err
	}
	t.TeamID = team.String
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (p *Default) getTrader(ctx context.Context, where string, arg any) (trader.Profile, error) {
	t, err := scanTrader(p.queryRowWithTransaction(ctx, `SELECT `+traderColumns+` FROM traders WHERE `+where+` = $1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return trader.Profile{}, ErrNotFound
	}
	if err != nil {
		return trader.Profile{}, fmt.Errorf("failed to load trader: %w", err)
	}
	return t, nil
}

func (p *Default) GetTrader(ctx context.Context, id string) (trader.Profile, error) {
	return p.getTrader(ctx, "id", id)
}

func (p *Default) GetTraderByName(ctx context.Context, name string) (trader.Profile, error) {
	return p.getTrader(ctx, "name", name)
}

func (p *Default) UpdateTrader(ctx context.Context, t trader.Profile) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE traders SET name = $2, password_hash = $3, team_id = $4 WHERE id = $1`,
			t.ID, t.Name, t.PasswordHash, nullable(t.TeamID))
		if isUniqueViolation(err) {
			return trader.ErrNameTaken
		}
		if err != nil {
			return fmt.Errorf("failed to update trader %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Default) ListTraders(ctx context.Context) ([]trader.Profile, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT `+traderColumns+` FROM traders ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list traders: %w", err)
	}
	defer rows.Close()
	var out []trader.Profile
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trader: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const teamColumns = `id, name, leader_id, members, invite_code, created_at`

func scanTeam(row interface{ Scan(...any) error }) (trader.Team, error) {
	var t trader.Team
	if err := row.Scan(&t.ID, &t.Name, &t.LeaderID, pq.Array(&t.Members), &t.InviteCode, &t.CreatedAt); err != nil {
		return trader.Team{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (p *Default) CreateTeam(ctx context.Context, t trader.Team) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO teams (id, name, leader_id, members, invite_code, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.Name, t.LeaderID, pq.Array(t.Members), t.InviteCode, t.CreatedAt)
		if isUniqueViolation(err) {
			return trader.ErrNameTaken
		}
		if err != nil {
			return fmt.Errorf("failed to create team %s: %w", t.Name, err)
		}
		return nil
	})
}

func (p *Default) getTeam(ctx context.Context, where string, arg any) (trader.Team, error) {
	t, err := scanTeam(p.queryRowWithTransaction(ctx, `SELECT `+teamColumns+` FROM teams WHERE `+where+` = $1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return trader.Team{}, ErrNotFound
	}
	if err != nil {
		return trader.Team{}, fmt.Errorf("failed to load team: %w", err)
	}
	return t, nil
}

func (p *Default) GetTeam(ctx context.Context, id string) (trader.Team, error) {
	return p.getTeam(ctx, "id", id)
}

func (p *Default) GetTeamByInvite(ctx context.Context, code string) (trader.Team, error) {
	return p.getTeam(ctx, "invite_code", code)
}

func (p *Default) UpdateTeam(ctx context.Context, t trader.Team) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE teams SET name = $2, leader_id = $3, members = $4 WHERE id = $1`,
			t.ID, t.Name, t.LeaderID, pq.Array(t.Members))
		if err != nil {
			return fmt.Errorf("failed to update team %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Default) ListTeams(ctx context.Context) ([]trader.Team, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()
	var out []trader.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Default) CreateSession(ctx context.Context, sess trader.Session) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (token_hash, trader_id, created_at) VALUES ($1, $2, $3)`,
			sess.TokenHash, sess.TraderID, sess.CreatedAt)
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to create session for %s: %w", sess.TraderID, err)
		}
		return nil
	})
}

func (p *Default) GetSession(ctx context.Context, tokenHash string) (trader.Session, error) {
	var sess trader.Session
	err := p.queryRowWithTransaction(ctx, `
		SELECT token_hash, trader_id, created_at FROM sessions WHERE token_hash = $1`, tokenHash).
		Scan(&sess.TokenHash, &sess.TraderID, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return trader.Session{}, ErrNotFound
	}
	if err != nil {
		return trader.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	return sess, nil
}

// -------- Journaler --------

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time, event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT time, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC`, eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
