package ledger

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/amirphl/trading-simulator/internal/order"
)

// HistoryLimit bounds the stored order history per account.
const HistoryLimit = 500

// Account is everything persisted under one ledger key.
type Account struct {
	Key          string
	Version      int64
	Ledger       *Ledger
	ActiveOrders []*order.Order
	History      []order.HistoryItem
	Performance  *Recorder
}

func NewAccount(key string, cash float64) *Account {
	return &Account{
		Key:          key,
		Ledger:       New(cash),
		ActiveOrders: []*order.Order{},
		History:      []order.HistoryItem{},
		Performance:  NewRecorder(PerformanceLimit),
	}
}

// AddHistory prepends a terminal record, most recent first.
func (a *Account) AddHistory(h order.HistoryItem) {
	a.History = append([]order.HistoryItem{h}, a.History...)
	if len(a.History) > HistoryLimit {
		a.History = a.History[:HistoryLimit]
	}
}

func (a *Account) FindOrder(id string) (int, *order.Order) {
	for i, o := range a.ActiveOrders {
		if o.ID == id {
			return i, o
		}
	}
	return -1, nil
}

func (a *Account) RemoveOrder(i int) {
	a.ActiveOrders = append(a.ActiveOrders[:i], a.ActiveOrders[i+1:]...)
}

// Snapshot is the persisted form of an Account.
type Snapshot struct {
	Cash               float64             `json:"cash"`
	UnsettledCash      []UnsettledCash     `json:"unsettledCash"`
	Holdings           map[string]*Holding `json:"holdings"`
	ActiveOrders       []*order.Order      `json:"activeOrders"`
	OrderHistory       []order.HistoryItem `json:"orderHistory"`
	PerformanceHistory []PerformanceEntry  `json:"performanceHistory"`
}

func (a *Account) Snapshot() Snapshot {
	holdings := make(map[string]*Holding, len(a.Ledger.Holdings))
	for s, h := range a.Ledger.Holdings {
		c := *h
		holdings[s] = &c
	}
	active := make([]*order.Order, len(a.ActiveOrders))
	for i, o := range a.ActiveOrders {
		c := *o
		active[i] = &c
	}
	return Snapshot{
		Cash:               a.Ledger.Cash,
		UnsettledCash:      append([]UnsettledCash{}, a.Ledger.Unsettled...),
		Holdings:           holdings,
		ActiveOrders:       active,
		OrderHistory:       append([]order.HistoryItem{}, a.History...),
		PerformanceHistory: a.Performance.Entries(),
	}
}

// Encode marshals the account snapshot to JSON.
func (a *Account) Encode() ([]byte, error) {
	data, err := json.Marshal(a.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger %s: %w", a.Key, err)
	}
	return data, nil
}

// Decode rebuilds an account from a stored snapshot. Active orders in a terminal
// state are dropped.
func Decode(key string, version int64, data []byte) (*Account, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", key, err)
	}
	a := NewAccount(key, s.Cash)
	a.Version = version
	a.Ledger.Unsettled = s.UnsettledCash
	a.Ledger.Holdings = s.Holdings
	a.Ledger.normalize()
	for _, o := range s.ActiveOrders {
		if o == nil || o.Status.Terminal() {
			continue
		}
		a.ActiveOrders = append(a.ActiveOrders, o)
	}
	if s.OrderHistory != nil {
		a.History = s.OrderHistory
	}
	entries := s.PerformanceHistory
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	for _, e := range entries {
		a.Performance.Record(e.Timestamp, e.Value)
	}
	return a, nil
}
