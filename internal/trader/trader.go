// Package trader
package trader

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNameTaken          = errors.New("name already taken")
	ErrInvalidCredentials = errors.New("invalid name or password")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidName        = errors.New("name is required")
	ErrAlreadyInTeam      = errors.New("trader already belongs to a team")
	ErrInvalidInvite      = errors.New("invalid invite code")
	ErrInvalidToken       = errors.New("invalid or missing session token")
)

const (
	minPasswordLength = 6
	tokenBytes        = 32
)

// Profile is a registered trader.
type Profile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	TeamID       string    `json:"teamId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Team shares the leader's ledger among its members.
type Team struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	LeaderID   string    `json:"leaderId"`
	Members    []string  `json:"members"`
	InviteCode string    `json:"inviteCode"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Session binds a login token to a trader. Only the token hash is stored.
type Session struct {
	TokenHash string
	TraderID  string
	CreatedAt time.Time
}

// Store persists profiles, teams and sessions. Lookups return ErrNotFound when absent and
// creates return ErrNameTaken on a duplicate name.
type Store interface {
	CreateTrader(ctx context.Context, p Profile) error
	GetTrader(ctx context.Context, id string) (Profile, error)
	GetTraderByName(ctx context.Context, name string) (Profile, error)
	UpdateTrader(ctx context.Context, p Profile) error
	ListTraders(ctx context.Context) ([]Profile, error)
	CreateTeam(ctx context.Context, t Team) error
	GetTeam(ctx context.Context, id string) (Team, error)
	GetTeamByInvite(ctx context.Context, code string) (Team, error)
	UpdateTeam(ctx context.Context, t Team) error
	ListTeams(ctx context.Context) ([]Team, error)
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, tokenHash string) (Session, error)
}

func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashToken is the stored form of a session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Registry implements signup, login and team membership on top of a Store.
type Registry struct {
	store Store
	cost  int
	now   func() time.Time
}

// NewRegistry uses bcrypt.DefaultCost when cost is zero.
func NewRegistry(store Store, cost int) *Registry {
	return &Registry{store: store, cost: cost, now: time.Now}
}

func (r *Registry) Signup(ctx context.Context, name, password string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrInvalidName
	}
	if len(password) < minPasswordLength {
		return Profile{}, ErrWeakPassword
	}
	hash, err := HashPassword(password, r.cost)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{ID: "trd_" + uuid.NewString(), Name: name, PasswordHash: hash, CreatedAt: r.now().UTC()}
	if err := r.store.CreateTrader(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("failed to create trader %s: %w", name, err)
	}
	return p, nil
}

func (r *Registry) Login(ctx context.Context, name, password string) (Profile, error) {
	p, err := r.store.GetTraderByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, ErrInvalidCredentials
		}
		return Profile{}, fmt.Errorf("failed to load trader %s: %w", name, err)
	}
	if !CheckPassword(p.PasswordHash, password) {
		return Profile{}, ErrInvalidCredentials
	}
	return p, nil
}

// IssueToken opens a session for traderID and returns the opaque token.
func (r *Registry) IssueToken(ctx context.Context, traderID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	s := Session{TokenHash: HashToken(token), TraderID: traderID, CreatedAt: r.now().UTC()}
	if err := r.store.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("failed to create session for %s: %w", traderID, err)
	}
	return token, nil
}

// Authenticate resolves a session token to its trader.
func (r *Registry) Authenticate(ctx context.Context, token string) (Profile, error) {
	if token == "" {
		return Profile{}, ErrInvalidToken
	}
	s, err := r.store.GetSession(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return Profile{}, ErrInvalidToken
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load session: %w", err)
	}
	p, err := r.store.GetTrader(ctx, s.TraderID)
	if errors.Is(err, ErrNotFound) {
		return Profile{}, ErrInvalidToken
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load trader %s: %w", s.TraderID, err)
	}
	return p, nil
}

func (r *Registry) Get(ctx context.Context, id string) (Profile, error) {
	return r.store.GetTrader(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]Profile, error) {
	return r.store.ListTraders(ctx)
}

func (r *Registry) Teams(ctx context.Context) ([]Team, error) {
	return r.store.ListTeams(ctx)
}

// CreateTeam makes leaderID the leader and first member of a new team. The
// leader's own ledger becomes the team ledger.
func (r *Registry) CreateTeam(ctx context.Context, leaderID, name string) (Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, ErrInvalidName
	}
	leader, err := r.store.GetTrader(ctx, leaderID)
	if err != nil {
		return Team{}, fmt.Errorf("failed to load trader %s: %w", leaderID, err)
	}
	if leader.TeamID != "" {
		return Team{}, ErrAlreadyInTeam
	}
	t := Team{
		ID:         "team_" + uuid.NewString(),
		Name:       name,
		LeaderID:   leaderID,
		Members:    []string{leaderID},
		InviteCode: strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.CreateTeam(ctx, t); err != nil {
		return Team{}, fmt.Errorf("failed to create team %s: %w", name, err)
	}
	leader.TeamID = t.ID
	if err := r.store.UpdateTrader(ctx, leader); err != nil {
		return Team{}, fmt.Errorf("failed to update trader %s: %w", leaderID, err)
	}
	return t, nil
}

// JoinTeam adds traderID to the team holding inviteCode.
func (r *Registry) JoinTeam(ctx context.Context, traderID, inviteCode string) (Team, error) {
	p, err := r.store.GetTrader(ctx, traderID)
	if err != nil {
		return Team{}, fmt.Errorf("failed to load trader %s: %w", traderID, err)
	}
	if p.TeamID != "" {
		return Team{}, ErrAlreadyInTeam
	}
	t, err := r.store.GetTeamByInvite(ctx, strings.ToUpper(strings.TrimSpace(inviteCode)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Team{}, ErrInvalidInvite
		}
		return Team{}, fmt.Errorf("failed to load team: %w", err)
	}
	t.Members = append(t.Members, traderID)
	if err := r.store.UpdateTeam(ctx, t); err != nil {
		return Team{}, fmt.Errorf("failed to update team %s: %w", t.ID, err)
	}
	p.TeamID = t.ID
	if err := r.store.UpdateTrader(ctx, p); err != nil {
		return Team{}, fmt.Errorf("failed to update trader %s: %w", traderID, err)
	}
	return t, nil
}

// LedgerKey resolves the ledger a trader trades against: the team leader's id for
// team members, otherwise the trader's own id.
func (r *Registry) LedgerKey(ctx context.Context, traderID string) (string, error) {
	p, err := r.store.GetTrader(ctx, traderID)
	if err != nil {
		return "", fmt.Errorf("failed to load trader %s: %w", traderID, err)
	}
	if p.TeamID == "" {
		return p.ID, nil
	}
	t, err := r.store.GetTeam(ctx, p.TeamID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return p.ID, nil
		}
		return "", fmt.Errorf("failed to load team %s: %w", p.TeamID, err)
	}
	return t.LeaderID, nil
}
