package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/db"
	"github.com/amirphl/trading-simulator/internal/journal"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	n := NewTelegramNotifier("tok", "42", 3, time.Millisecond)
	n.BaseURL = srv.URL
	n.log = zap.NewNop().Sugar()
	return n
}

func TestTelegramSend(t *testing.T) {
	var got atomic.Value
	n := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		_ = r.ParseForm()
		assert.Equal(t, "42", r.PostForm.Get("chat_id"))
		got.Store(r.PostForm.Get("text"))
	})
	require.NoError(t, n.Send("hello"))
	assert.Equal(t, "hello", got.Load())
}

func TestTelegramSendWithRetry(t *testing.T) {
	var calls atomic.Int32
	n := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	require.NoError(t, n.SendWithRetry("x"))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	err := n.SendWithRetry("x")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryWithNotificationAlertsOnFailure(t *testing.T) {
	texts := make(chan string, 4)
	n := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		texts <- r.PostForm.Get("text")
	})

	attempts := 0
	boom := errors.New("boom")
	err := n.RetryWithNotification(func() error { attempts++; return boom }, "save ledger")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, <-texts, "save ledger failed after 3 attempts")

	attempts = 0
	err = n.RetryWithNotification(func() error {
		attempts++
		if attempts == 2 {
			return nil
		}
		return boom
	}, "flaky")
	assert.NoError(t, err)
	assert.Len(t, texts, 0)
}

func TestTelegramNotifyFiltersPrivateInfo(t *testing.T) {
	texts := make(chan string, 4)
	n := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		texts <- r.PostForm.Get("text")
	})

	n.Notify(Notification{Type: Success, Text: "filled", LedgerKey: "trd_1"})
	n.Notify(Notification{Type: Error, Text: "Trading halted", LedgerKey: ""})

	select {
	case msg := <-texts:
		assert.Equal(t, "[ERROR] Trading halted", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert sent")
	}
	select {
	case msg := <-texts:
		t.Fatalf("unexpected alert %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b, Log{L: zap.NewNop().Sugar()}, Log{}}
	m.Notify(Notification{Type: Info, Text: "hi"})

	for _, r := range []*Recorder{a, b} {
		last, ok := r.Last()
		require.True(t, ok)
		assert.Equal(t, "hi", last.Text)
		assert.True(t, last.Broadcast())
	}
	_, ok := (&Recorder{}).Last()
	assert.False(t, ok)
}

func TestJournalNotifier(t *testing.T) {
	store := db.NewMemory()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	j := Journal{J: store, Log: zap.NewNop().Sugar()}
	j.Notify(Notification{Type: Success, Text: "Bought 10 TEST", LedgerKey: "trd_1", Time: at})
	Journal{}.Notify(Notification{Text: "ignored"})

	events, err := store.GetEvents(context.Background(), journal.TypeNotification, at, at)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Bought 10 TEST", events[0].Description)
	assert.Equal(t, "trd_1", events[0].Data["ledgerKey"])
	assert.Equal(t, "success", events[0].Data["type"])
}

func dialHub(t *testing.T, hub *Hub, key string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, key)
	}))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubRoutesByLedger(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	alice := dialHub(t, hub, "trd_a")
	bob := dialHub(t, hub, "trd_b")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Notify(Notification{Type: Success, Text: "for alice", LedgerKey: "trd_a"})
	hub.Notify(Notification{Type: Info, Text: "for everyone"})

	var env struct {
		Kind string       `json:"kind"`
		Data Notification `json:"data"`
	}
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, alice.ReadJSON(&env))
	assert.Equal(t, FrameNotification, env.Kind)
	assert.Equal(t, "for alice", env.Data.Text)
	require.NoError(t, alice.ReadJSON(&env))
	assert.Equal(t, "for everyone", env.Data.Text)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, bob.ReadJSON(&env))
	assert.Equal(t, "for everyone", env.Data.Text)

	hub.PublishMarket(map[string]string{"status": "OPEN"})
	var market struct {
		Kind string            `json:"kind"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, bob.ReadJSON(&market))
	assert.Equal(t, FrameMarket, market.Kind)
	assert.Equal(t, "OPEN", market.Data["status"])
}

func TestHubDropsClosedClients(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	conn := dialHub(t, hub, "trd_a")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	hub.Notify(Notification{Text: "nobody listening"})
	hub.Close()
}
