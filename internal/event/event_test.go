package event

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInjector(seed int64) *Injector {
	return NewInjector(nil, rand.New(rand.NewSource(seed)))
}

func TestScanStartsEventWhenRollSucceeds(t *testing.T) {
	in := newTestInjector(1)
	now := time.Unix(1000, 0)

	outcome, ev := in.Scan(now, 1)
	require.Equal(t, Started, outcome)
	require.NotNil(t, ev)
	assert.GreaterOrEqual(t, ev.Duration, 20*time.Second)
	assert.Less(t, ev.Duration, 40*time.Second)
	assert.Equal(t, now.Add(ev.Duration), ev.ExpiresAt)

	// While active and not expired nothing changes, even with frequency 1.
	outcome, again := in.Scan(now.Add(ScanInterval), 1)
	assert.Equal(t, NoChange, outcome)
	assert.Equal(t, ev.Title, again.Title)
}

func TestScanNeverStartsWithZeroFrequency(t *testing.T) {
	in := newTestInjector(2)
	now := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		outcome, ev := in.Scan(now.Add(time.Duration(i)*ScanInterval), 0)
		assert.Equal(t, NoChange, outcome)
		assert.Nil(t, ev)
	}
}

func TestScanClearsExpiredEvent(t *testing.T) {
	in := newTestInjector(3)
	now := time.Unix(0, 0)
	_, ev := in.Scan(now, 1)
	require.NotNil(t, ev)

	outcome, cur := in.Scan(ev.ExpiresAt, 1)
	assert.Equal(t, Stabilized, outcome)
	assert.Nil(t, cur)
	assert.Nil(t, in.Active())

	d, v := in.Modifiers()
	assert.Zero(t, d)
	assert.Zero(t, v)
}

func TestManualTriggerPreemptsActiveEvent(t *testing.T) {
	in := newTestInjector(4)
	now := time.Unix(0, 0)
	_, _ = in.Scan(now, 1)

	title := "NEWS: Inflation Fears Rise"
	require.True(t, in.Trigger(title, now.Add(time.Second)))

	outcome, ev := in.Scan(now.Add(2*time.Second), 0)
	require.Equal(t, Started, outcome)
	assert.Equal(t, title, ev.Title)

	d, v := in.Modifiers()
	assert.Equal(t, -0.20, d)
	assert.Equal(t, 0.15, v)
}

func TestManualTriggerStaleIsIgnored(t *testing.T) {
	in := newTestInjector(5)
	now := time.Unix(100, 0)
	require.True(t, in.Trigger("FLASH: Market Experiencing Unusual Stability", now.Add(-6*time.Second)))

	outcome, ev := in.Scan(now, 0)
	assert.Equal(t, NoChange, outcome)
	assert.Nil(t, ev)

	// The stale trigger was consumed.
	outcome, _ = in.Scan(now.Add(ScanInterval), 0)
	assert.Equal(t, NoChange, outcome)
}

func TestTriggerUnknownTemplate(t *testing.T) {
	in := newTestInjector(6)
	assert.False(t, in.Trigger("nope", time.Now()))
}

func TestClear(t *testing.T) {
	in := newTestInjector(7)
	now := time.Unix(0, 0)
	in.Scan(now, 1)
	in.Trigger("NEWS: Inflation Fears Rise", now)
	in.Clear()
	assert.Nil(t, in.Active())
	outcome, _ := in.Scan(now, 0)
	assert.Equal(t, NoChange, outcome)
}
