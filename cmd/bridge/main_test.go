package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bridge/config"
	"github.com/xraph/bridge/dedup"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/pair"
	"github.com/xraph/bridge/store/file"
	"github.com/xraph/bridge/store/redis"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, "bridge dev\n", execute(t, "version"))
}

func TestPairsListShowsSeed(t *testing.T) {
	t.Setenv("PAIRS_FILE", filepath.Join(t.TempDir(), "pairs.json"))
	t.Setenv("BRIDGE_PAIRS", `[{"discord_channel_id": 100, "telegram_chat_id": -200}]`)

	out := execute(t, "pairs", "list")
	assert.Contains(t, out, "(seed)")
	assert.Contains(t, out, "discord:100")
	assert.Contains(t, out, "telegram:-200")
	assert.Contains(t, out, "bidirectional")
}

func TestPairsListShowsStored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.json")
	t.Setenv("PAIRS_FILE", path)

	stored := pair.Pair{
		Source:      pair.Endpoint{Platform: event.Telegram, ChannelID: "-300"},
		Destination: pair.Endpoint{Platform: event.Discord, ChannelID: "400"},
		ThreadID:    "401",
		Mode:        pair.OneWay,
	}
	reg := pair.NewRegistry(nil)
	p, err := reg.Upsert(context.Background(), pair.Input{
		Source: stored.Source, Destination: stored.Destination, ThreadID: stored.ThreadID, Mode: stored.Mode,
	})
	require.NoError(t, err)
	require.NoError(t, file.New(path).SavePairs(context.Background(), []pair.Pair{p}))

	out := execute(t, "pairs", "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], p.ID.String())
	assert.Contains(t, lines[1], "oneway")
	assert.NotContains(t, out, "(seed)")
}

func TestOpenStoresMemoryDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	st, err := openStores(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer st.close()

	assert.Nil(t, st.mapping)
	assert.Same(t, st.primary, st.pairs)
	assert.Len(t, st.options(), 3)

	_, isComposite := st.dedup.(*dedup.Composite)
	assert.False(t, isComposite)
}

func TestOpenStoresSQLiteMapping(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"MAPPING_DB": filepath.Join(t.TempDir(), "bridge.db"),
	})
	require.NoError(t, err)

	st, err := openStores(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer st.close()

	require.NotNil(t, st.mapping)
	assert.Len(t, st.options(), 4)
	loaded, err := st.pairs.LoadPairs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestOpenStoresRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, err := config.LoadFrom(map[string]string{
		"REDIS_URL":     "redis://" + mr.Addr(),
		"DEDUP_BACKEND": "redis",
	})
	require.NoError(t, err)

	st, err := openStores(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer st.close()

	_, isRedis := st.primary.(*redis.Store)
	assert.True(t, isRedis)
	_, isComposite := st.dedup.(*dedup.Composite)
	assert.True(t, isComposite)

	dup, err := st.dedup.CheckAndMark(context.Background(), event.NewFingerprint(event.Discord, "100", "1"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.True(t, mr.Exists("bridge:dedup:discord:100:1"))
}

func TestOpenStoresRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg, err := config.LoadFrom(map[string]string{"REDIS_URL": "redis://" + addr})
	require.NoError(t, err)

	_, err = openStores(context.Background(), cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
