package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmrelay/pmrelay/internal/api"
	"github.com/pmrelay/pmrelay/internal/config"
	"github.com/pmrelay/pmrelay/internal/factory"
)

func newRegistry(t *testing.T, bots ...string) *Registry {
	t.Helper()
	cfg := config.NewForTesting()
	cfg.Bots = bots
	stores, err := factory.NewStores(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	r, err := New(cfg, stores, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestLookup_AllowList(t *testing.T) {
	r := newRegistry(t, "42:secret:900")

	h, err := r.Lookup("42:secret", 900)
	require.NoError(t, err)
	again, err := r.Lookup("42:secret", 900)
	require.NoError(t, err)
	assert.Same(t, h, again, "services are cached")

	_, err = r.Lookup("42:secret", 901)
	assert.ErrorIs(t, err, api.ErrUnknownBot, "owner must match")
	_, err = r.Lookup("43:other", 900)
	assert.ErrorIs(t, err, api.ErrUnknownBot)
}

func TestLookup_Open(t *testing.T) {
	r := newRegistry(t)

	a, err := r.Lookup("42:secret", 900)
	require.NoError(t, err)
	b, err := r.Lookup("42:secret", 901)
	require.NoError(t, err)
	assert.NotSame(t, a, b, "each owner gets its own service")

	_, err = r.Lookup("not-a-token", 900)
	assert.ErrorIs(t, err, api.ErrUnknownBot)
	assert.Empty(t, r.RenewalBots(), "only configured bots are renewed")
}

func TestRenewalBots(t *testing.T) {
	r := newRegistry(t, "42:secret:900", "43:other:901")

	bots := r.RenewalBots()
	require.Len(t, bots, 2)
	owners := map[int64]int64{}
	for _, b := range bots {
		owners[b.ID] = b.OwnerUID
		assert.NotNil(t, b.Docs)
	}
	assert.Equal(t, map[int64]int64{42: 900, 43: 901}, owners)
	assert.Len(t, r.Clients(), 2)
}

func TestNew_RejectsBadBots(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.Bots = []string{"42:secret:abc"}
	_, err := New(cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}
