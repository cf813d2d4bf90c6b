package broadcast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var issued = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func TestSignalValidate(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
		ok   bool
	}{
		{"open", SessionSignal(ActionOpen, issued), true},
		{"close", SessionSignal(ActionClose, issued), true},
		{"bad action", SessionSignal("PAUSE", issued), false},
		{"event", EventSignal("Tech Rally", issued), true},
		{"event without name", EventSignal("", issued), false},
		{"message", MessageSignal("hello", issued), true},
		{"empty message", MessageSignal("", issued), false},
		{"unknown kind", Signal{Kind: "weather", Timestamp: 1}, false},
		{"no timestamp", Signal{Kind: KindSession, Action: ActionOpen}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSignal)
			}
		})
	}
}

func TestSignalAge(t *testing.T) {
	s := SessionSignal(ActionOpen, issued)
	assert.Equal(t, 3*time.Second, s.Age(issued.Add(3*time.Second)))
	assert.Equal(t, time.Duration(0), s.Age(issued.Add(-time.Minute)))
	assert.True(t, s.IssuedAt().Equal(issued))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"kind":"session","action":"NOPE","timestamp":5}`))
	assert.ErrorIs(t, err, ErrInvalidSignal)

	data, err := Encode(EventSignal("Oil Shock", issued))
	require.NoError(t, err)
	s, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "Oil Shock", s.EventName)
}

func TestLocalDeliversInOrder(t *testing.T) {
	bus := NewLocal()
	var got []string
	unsubA, err := bus.Subscribe(func(s Signal) { got = append(got, "a:"+s.Action) })
	require.NoError(t, err)
	_, err = bus.Subscribe(func(s Signal) { got = append(got, "b:"+s.Action) })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, SessionSignal(ActionOpen, issued)))
	unsubA()
	require.NoError(t, bus.Publish(ctx, SessionSignal(ActionClose, issued)))
	assert.Error(t, bus.Publish(ctx, Signal{Kind: "bogus", Timestamp: 1}))

	assert.Equal(t, []string{"a:OPEN", "b:OPEN", "b:CLOSE"}, got)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Publish(ctx, SessionSignal(ActionOpen, issued)))
	assert.Len(t, got, 3)
}

// Requires a running server; set NATS_URL to enable.
func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	bus, err := ConnectNATS(url, "test.market.control."+time.Now().Format("150405.000000"), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan Signal, 1)
	unsub, err := bus.Subscribe(func(s Signal) { got <- s })
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, bus.Publish(context.Background(), MessageSignal("hello", issued)))
	select {
	case s := <-got:
		assert.Equal(t, "hello", s.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("signal not delivered")
	}
}
