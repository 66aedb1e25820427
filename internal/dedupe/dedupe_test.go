package dedupe

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liqwatch/config"
	"liqwatch/internal/models"
)

func key(symbol string, ts int64, oid string) models.EventKey {
	return models.EventKey{Symbol: symbol, TimestampMs: ts, OrderID: oid}
}

func TestMemoryAdmitsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(time.Hour)

	assert.True(t, store.Admit(ctx, key("BTCUSDT", 1_700_000_000_000, "1")))
	assert.False(t, store.Admit(ctx, key("BTCUSDT", 1_700_000_000_000, "1")))
	assert.True(t, store.Admit(ctx, key("BTCUSDT", 1_700_000_000_000, "2")))
	assert.True(t, store.Admit(ctx, key("ETHUSDT", 1_700_000_000_000, "1")))
	assert.Equal(t, 3, store.Len())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newMemoryAt(window time.Duration, start time.Time) (*Memory, *fakeClock) {
	clock := &fakeClock{t: start}
	m := NewMemory(window)
	m.now = clock.now
	return m, clock
}

func TestMemoryEvictsAfterWindow(t *testing.T) {
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)
	store, clock := newMemoryAt(time.Minute, start)

	require.True(t, store.Admit(ctx, key("BTCUSDT", start.UnixMilli(), "")))
	clock.t = start.Add(30 * time.Second)
	assert.False(t, store.Admit(ctx, key("BTCUSDT", start.UnixMilli(), "")))

	clock.t = start.Add(2 * time.Minute)
	require.True(t, store.Admit(ctx, key("ETHUSDT", clock.t.UnixMilli(), "")))
	assert.Equal(t, 1, store.Len(), "first key should be swept")
	assert.True(t, store.Admit(ctx, key("BTCUSDT", start.UnixMilli(), "")), "expired key is admitted again")
}

func TestMemoryAdmitsUnseenOldKey(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	store, clock := newMemoryAt(24*time.Hour, now)

	require.True(t, store.Admit(ctx, key("BTCUSDT", now.UnixMilli(), "A1")))
	old := key("BTCUSDT", now.Add(-25*time.Hour).UnixMilli(), "A2")
	assert.True(t, store.Admit(ctx, old), "a key never seen must be admitted")

	clock.t = now.Add(12 * time.Hour)
	assert.False(t, store.Admit(ctx, old), "replay inside the window is rejected")
}

func TestMemoryFutureKeyDoesNotSilenceOthers(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	store, _ := newMemoryAt(24*time.Hour, now)

	require.True(t, store.Admit(ctx, key("XRPUSDT", now.Add(48*time.Hour).UnixMilli(), "")))
	assert.True(t, store.Admit(ctx, key("BTCUSDT", now.UnixMilli(), "A1")))
	assert.True(t, store.Admit(ctx, key("ETHUSDT", now.Add(-time.Hour).UnixMilli(), "B1")))
}

func TestMemoryWithoutWindowKeepsEverything(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(0)
	for i := int64(0); i < 10; i++ {
		require.True(t, store.Admit(ctx, key("BTCUSDT", i*int64(time.Hour/time.Millisecond), "")))
	}
	assert.Equal(t, 10, store.Len())
	assert.False(t, store.Admit(ctx, key("BTCUSDT", 0, "")))
}

func TestBuntAdmitsOnce(t *testing.T) {
	ctx := context.Background()
	store, err := NewBunt(":memory:", time.Hour)
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.Admit(ctx, key("BTCUSDT", 1, "a")))
	assert.False(t, store.Admit(ctx, key("BTCUSDT", 1, "a")))
	assert.True(t, store.Admit(ctx, key("BTCUSDT", 2, "a")))
}

func TestBuntSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dedupe.db")

	store, err := NewBunt(path, time.Hour)
	require.NoError(t, err)
	require.True(t, store.Admit(ctx, key("BTCUSDT", 1, "a")))
	require.NoError(t, store.Close())

	reopened, err := NewBunt(path, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()
	assert.False(t, reopened.Admit(ctx, key("BTCUSDT", 1, "a")))
}

func TestBuntFailsOpenWhenClosed(t *testing.T) {
	store, err := NewBunt(":memory:", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.True(t, store.Admit(context.Background(), key("BTCUSDT", 1, "a")))
	assert.True(t, store.Admit(context.Background(), key("BTCUSDT", 1, "a")))
}

func TestRedisFailsOpen(t *testing.T) {
	store, err := NewRedis(config.RedisConfig{Addr: "127.0.0.1:1", Prefix: "test:"}, time.Hour)
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.True(t, store.Admit(ctx, key("BTCUSDT", 1, "a")))
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(config.DedupeConfig{Backend: config.DedupeMemory, Window: time.Hour})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.DedupeConfig{Backend: config.DedupeBuntDB, Path: ":memory:", Window: time.Hour})
	require.NoError(t, err)
	assert.IsType(t, &Bunt{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.DedupeConfig{Backend: "etcd"})
	assert.Error(t, err)
}
