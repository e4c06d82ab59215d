package calculations

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eigenrisk/internal/database"
)

type payload struct {
	Values []float64 `msgpack:"values"`
	Label  string    `msgpack:"label"`
}

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Profile: database.ProfileCache,
		Name:    "calculations",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	now := time.Unix(1_700_000_000, 0)
	cache := NewCache(db.Conn(), zerolog.Nop())
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)

	in := payload{Values: []float64{1.5, -2, 3e-9}, Label: "x"}
	require.NoError(t, cache.Set("rmt:abc", in, time.Hour))

	var out payload
	ok, err := cache.Get("rmt:abc", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)

	ok, err = cache.Get("rmt:missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	// overwrite
	require.NoError(t, cache.Set("rmt:abc", payload{Label: "y"}, time.Hour))
	ok, err = cache.Get("rmt:abc", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "y", out.Label)
}

func TestCacheExpiry(t *testing.T) {
	cache, now := newTestCache(t)

	require.NoError(t, cache.Set("spiked:a", payload{Label: "a"}, time.Minute))
	require.NoError(t, cache.Set("spiked:b", payload{Label: "b"}, time.Hour))
	require.NoError(t, cache.Set("rmt:c", payload{Label: "c"}, time.Hour))

	counts, err := cache.Count()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"spiked": 2, "rmt": 1}, counts)

	*now = now.Add(2 * time.Minute)

	var out payload
	ok, err := cache.Get("spiked:a", &out)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be served")

	job := NewCleanupJob(cache, zerolog.Nop())
	assert.Equal(t, "calculation_cache_cleanup", job.Name())
	require.NoError(t, job.Run())

	counts, err = cache.Count()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"spiked": 1, "rmt": 1}, counts)

	removed, err := cache.DeleteExpired()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCacheDelete(t *testing.T) {
	cache, _ := newTestCache(t)

	require.NoError(t, cache.Set("rmt:1", payload{}, time.Hour))
	require.NoError(t, cache.Set("rmt:2", payload{}, time.Hour))
	require.NoError(t, cache.Set("plain", payload{}, time.Hour))

	require.NoError(t, cache.Delete("plain"))
	removed, err := cache.DeleteKind("rmt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	counts, err := cache.Count()
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestCacheDropsUndecodableEntry(t *testing.T) {
	cache, now := newTestCache(t)

	_, err := cache.db.Exec(
		"INSERT INTO calculation_cache (key, kind, value, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		"rmt:broken", "rmt", []byte{0xc1}, now.Unix(), now.Add(time.Hour).Unix(),
	)
	require.NoError(t, err)

	var got payload
	found, err := cache.Get("rmt:broken", &got)
	assert.Error(t, err)
	assert.False(t, found)

	found, err = cache.Get("rmt:broken", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheRejectsNonPositiveTTL(t *testing.T) {
	cache, _ := newTestCache(t)
	assert.Error(t, cache.Set("rmt:x", payload{}, 0))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "rmt", kindOf("rmt:deadbeef"))
	assert.Equal(t, "other", kindOf("plain"))
	assert.Equal(t, "other", kindOf(":x"))
}
