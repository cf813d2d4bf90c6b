package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amirphl/trading-simulator/internal/broadcast"
	"github.com/amirphl/trading-simulator/internal/config"
	"github.com/amirphl/trading-simulator/internal/engine"
	"github.com/amirphl/trading-simulator/internal/journal"
	"github.com/amirphl/trading-simulator/internal/order"
	"github.com/amirphl/trading-simulator/internal/trader"
)

// traderError maps registry errors to status codes.
func (s *Server) traderError(c *gin.Context, where string, err error) {
	switch {
	case errors.Is(err, trader.ErrInvalidName), errors.Is(err, trader.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, trader.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, trader.ErrInvalidInvite), errors.Is(err, trader.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, trader.ErrNameTaken), errors.Is(err, trader.ErrAlreadyInTeam):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.internalError(c, where, err)
	}
}

type credentials struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) Signup(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	p, err := s.registry.Signup(ctx, req.Name, req.Password)
	if err != nil {
		s.traderError(c, "Signup", err)
		return
	}
	token, err := s.registry.IssueToken(ctx, p.ID)
	if err != nil {
		s.internalError(c, "Signup", err)
		return
	}
	s.log.Infow("Signup | trader registered", "trader", p.ID, "name", p.Name)
	c.JSON(http.StatusCreated, gin.H{"trader": p, "ledgerKey": p.ID, "token": token})
}

func (s *Server) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	p, err := s.registry.Login(ctx, req.Name, req.Password)
	if err != nil {
		s.traderError(c, "Login", err)
		return
	}
	key, err := s.registry.LedgerKey(ctx, p.ID)
	if err != nil {
		s.internalError(c, "Login", err)
		return
	}
	token, err := s.registry.IssueToken(ctx, p.ID)
	if err != nil {
		s.internalError(c, "Login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trader": p, "ledgerKey": key, "token": token})
}

func (s *Server) GetMarket(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.MarketView())
}

// displayNames maps trader ids and team ledger keys to public names. A team's
// ledger is shown under the team name.
func (s *Server) displayNames(ctx context.Context) (map[string]string, error) {
	traders, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(traders))
	for _, p := range traders {
		names[p.ID] = p.Name
	}
	teams, err := s.registry.Teams(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range teams {
		names["team:"+t.LeaderID] = t.Name
	}
	return names, nil
}

type publicStanding struct {
	Rank       int     `json:"rank"`
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnlPercent"`
}

// GetLeaderboard ranks ledgers by display name. Trader ids stay private since
// they identify ledgers on the admin routes.
func (s *Server) GetLeaderboard(c *gin.Context) {
	names, err := s.displayNames(c.Request.Context())
	if err != nil {
		s.internalError(c, "GetLeaderboard", err)
		return
	}
	board := s.engine.Leaderboard()
	out := make([]publicStanding, 0, len(board))
	for i, st := range board {
		name, ok := names["team:"+st.LedgerKey]
		if !ok {
			name = names[st.LedgerKey]
		}
		out = append(out, publicStanding{Rank: i + 1, Name: name, Value: st.Value, PnL: st.PnL, PnLPercent: st.PnLPercent})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) AdminLeaderboard(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Leaderboard())
}

type teamView struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Leader  string   `json:"leader"`
	Members []string `json:"members"`
}

func newTeamView(t trader.Team, names map[string]string) teamView {
	v := teamView{ID: t.ID, Name: t.Name, Leader: names[t.LeaderID], Members: make([]string, 0, len(t.Members))}
	for _, m := range t.Members {
		v.Members = append(v.Members, names[m])
	}
	return v
}

func (s *Server) ListTeams(c *gin.Context) {
	ctx := c.Request.Context()
	teams, err := s.registry.Teams(ctx)
	if err != nil {
		s.internalError(c, "ListTeams", err)
		return
	}
	names, err := s.displayNames(ctx)
	if err != nil {
		s.internalError(c, "ListTeams", err)
		return
	}
	out := make([]teamView, 0, len(teams))
	for _, t := range teams {
		out = append(out, newTeamView(t, names))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) CreateTeam(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := s.registry.CreateTeam(c.Request.Context(), currentTrader(c).ID, req.Name)
	if err != nil {
		s.traderError(c, "CreateTeam", err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) JoinTeam(c *gin.Context) {
	var req struct {
		InviteCode string `json:"inviteCode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	t, err := s.registry.JoinTeam(ctx, currentTrader(c).ID, req.InviteCode)
	if err != nil {
		s.traderError(c, "JoinTeam", err)
		return
	}
	if err := s.loader.Ensure(ctx, t.LeaderID); err != nil {
		s.internalError(c, "JoinTeam", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"team": t, "ledgerKey": t.LeaderID})
}

func (s *Server) GetPortfolio(c *gin.Context) {
	p, err := s.engine.Portfolio(c.GetString(ctxLedgerKey))
	if err != nil {
		s.internalError(c, "GetPortfolio", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type orderRequest struct {
	Symbol       string  `json:"symbol" binding:"required"`
	Side         string  `json:"side" binding:"required"`
	Kind         string  `json:"kind"`
	Quantity     int64   `json:"quantity"`
	LimitPrice   float64 `json:"limitPrice"`
	TrailPercent float64 `json:"trailPercent"`
}

// PlaceOrder answers 201 for an accepted order and 422 with the reason otherwise.
func (s *Server) PlaceOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := order.Kind(strings.ToUpper(req.Kind))
	if kind == "" {
		kind = order.Market
	}
	res := s.engine.PlaceOrder(c.GetString(ctxLedgerKey), order.Request{
		TraderID:     currentTrader(c).ID,
		Symbol:       strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:         order.Side(strings.ToUpper(req.Side)),
		Kind:         kind,
		Quantity:     req.Quantity,
		LimitPrice:   req.LimitPrice,
		TrailPercent: req.TrailPercent,
	})
	if !res.Accepted {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) CancelOrder(c *gin.Context) {
	item, err := s.engine.CancelOrder(c.GetString(ctxLedgerKey), c.Param("id"))
	if err != nil {
		if engine.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "CancelOrder", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// -------- admin --------

func (s *Server) publish(c *gin.Context, sig broadcast.Signal) bool {
	if err := s.bus.Publish(c.Request.Context(), sig); err != nil {
		if errors.Is(err, broadcast.ErrInvalidSignal) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return false
		}
		s.internalError(c, "publish", err)
		return false
	}
	s.log.Infow("publish | control signal sent", "kind", sig.Kind, "action", sig.Action, "event", sig.EventName)
	return true
}

func (s *Server) OpenSession(c *gin.Context) {
	if s.publish(c, broadcast.SessionSignal(broadcast.ActionOpen, s.clock.Now())) {
		c.JSON(http.StatusAccepted, gin.H{"status": s.engine.Status()})
	}
}

func (s *Server) CloseSession(c *gin.Context) {
	if s.publish(c, broadcast.SessionSignal(broadcast.ActionClose, s.clock.Now())) {
		c.JSON(http.StatusAccepted, gin.H{"status": s.engine.Status()})
	}
}

func (s *Server) SessionHistory(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.SessionHistory())
}

func (s *Server) ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Templates())
}

func (s *Server) TriggerEvent(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	known := false
	for _, t := range s.engine.Templates() {
		if t.Title == req.Name {
			known = true
			break
		}
	}
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown event template"})
		return
	}
	if s.publish(c, broadcast.EventSignal(req.Name, s.clock.Now())) {
		c.JSON(http.StatusAccepted, gin.H{"queued": req.Name})
	}
}

func (s *Server) BroadcastMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.publish(c, broadcast.MessageSignal(strings.TrimSpace(req.Text), s.clock.Now())) {
		c.JSON(http.StatusAccepted, gin.H{"sent": true})
	}
}

func (s *Server) GetSettings(c *gin.Context) {
	resp := gin.H{"current": s.engine.Settings()}
	if p, ok := s.engine.PendingSettings(); ok {
		resp["pending"] = p
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateSettings validates and stages new settings, then persists them so a
// restart picks them up.
func (s *Server) UpdateSettings(c *gin.Context) {
	var req config.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.UpdateSettings(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.settings != nil {
		if err := s.settings.SaveSettings(c.Request.Context(), req); err != nil {
			s.internalError(c, "UpdateSettings", err)
			return
		}
	}
	_, staged := s.engine.PendingSettings()
	c.JSON(http.StatusOK, gin.H{"settings": req, "staged": staged})
}

func (s *Server) ListTraders(c *gin.Context) {
	traders, err := s.registry.List(c.Request.Context())
	if err != nil {
		s.internalError(c, "ListTraders", err)
		return
	}
	c.JSON(http.StatusOK, traders)
}

func (s *Server) ResetLedger(c *gin.Context) {
	key := c.Param("key")
	if err := s.loader.Ensure(c.Request.Context(), key); err != nil {
		s.internalError(c, "ResetLedger", err)
		return
	}
	s.engine.ResetAccount(key)
	p, err := s.engine.Portfolio(key)
	if err != nil {
		s.internalError(c, "ResetLedger", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) AdjustCash(c *gin.Context) {
	var req struct {
		Delta float64 `json:"delta" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := c.Param("key")
	if err := s.loader.Ensure(c.Request.Context(), key); err != nil {
		s.internalError(c, "AdjustCash", err)
		return
	}
	cash, err := s.engine.AdjustCash(key, req.Delta)
	if errors.Is(err, engine.ErrNegativeCash) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "cash": cash})
		return
	}
	if err != nil {
		s.internalError(c, "AdjustCash", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ledgerKey": key, "cash": cash})
}

// GetJournal lists journaled events of one type between from and to (RFC3339),
// defaulting to notifications from the last 24 hours.
func (s *Server) GetJournal(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	eventType := c.DefaultQuery("type", journal.TypeNotification)
	end := s.clock.Now()
	start := end.Add(-24 * time.Hour)
	for name, dst := range map[string]*time.Time{"from": &start, "to": &end} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " timestamp"})
			return
		}
		*dst = t
	}
	events, err := s.journal.GetEvents(c.Request.Context(), eventType, start, end)
	if err != nil {
		s.internalError(c, "GetJournal", err)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	c.JSON(http.StatusOK, events)
}
