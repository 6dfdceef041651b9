package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmrelay/pmrelay/internal/config"
	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/store/pinned"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

func TestNewStores_SharedDrivers(t *testing.T) {
	mr := miniredis.RunT(t)

	cases := []struct {
		name string
		edit func(c *config.Config)
	}{
		{"memory", func(c *config.Config) { c.StoreDriver = config.StoreMemory }},
		{"sqlite", func(c *config.Config) {
			c.StoreDriver = config.StoreSQLite
			c.SQLitePath = filepath.Join(t.TempDir(), "relay.db")
		}},
		{"redis", func(c *config.Config) {
			c.StoreDriver = config.StoreRedis
			c.RedisAddr = mr.Addr()
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewForTesting()
			tc.edit(cfg)
			ctx := context.Background()

			s, err := NewStores(ctx, cfg, zerolog.Nop())
			require.NoError(t, err)
			defer s.Close()

			require.NotNil(t, s.Shared())
			assert.Equal(t, tc.name, s.Driver())

			a := s.For(telegram.New("http://127.0.0.1:0", "1:a", 0))
			b := s.For(telegram.New("http://127.0.0.1:0", "2:b", 0))
			assert.Same(t, a, b)

			key := store.DirectoryKey(1, 900)
			_, err = a.Create(ctx, key, "-1001")
			require.NoError(t, err)
			got, err := b.Load(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "-1001", got.Text)
		})
	}
}

func TestNewStores_TelegramIsPerBot(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.StoreDriver = config.StoreTelegram

	s, err := NewStores(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, s.Shared())

	docs := s.For(telegram.New("http://127.0.0.1:0", "1:a", 0))
	assert.IsType(t, &pinned.Store{}, docs)
	assert.NoError(t, s.Close())
}

func TestNewStores_Errors(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.StoreDriver = "etcd"
	_, err := NewStores(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown STORE_DRIVER")

	cfg.StoreDriver = config.StoreRedis
	cfg.RedisAddr = "127.0.0.1:1"
	_, err = NewStores(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "connect to redis")
}
