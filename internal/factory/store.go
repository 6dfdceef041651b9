package factory

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/config"
	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/store/memory"
	"github.com/pmrelay/pmrelay/internal/store/pinned"
	storepg "github.com/pmrelay/pmrelay/internal/store/postgres"
	storeredis "github.com/pmrelay/pmrelay/internal/store/redis"
	storesqlite "github.com/pmrelay/pmrelay/internal/store/sqlite"
)

// Stores hands out the document store of each bot. Database drivers share one
// store across bots; the telegram driver keeps the documents of a bot in its
// own chats and needs that bot's client.
type Stores struct {
	driver string
	shared store.Documents
	close  func() error
	log    zerolog.Logger
}

// NewStores opens the store selected by cfg.StoreDriver.
func NewStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	s := &Stores{driver: cfg.StoreDriver, close: func() error { return nil }, log: log}

	switch cfg.StoreDriver {
	case config.StoreTelegram:
		// per bot, see For

	case config.StoreMemory:
		log.Warn().Msg("memory store selected; relay state is lost on restart")
		s.shared = memory.New()

	case config.StoreSQLite:
		db, err := storesqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		st, err := storesqlite.New(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.shared, s.close = st, st.Close

	case config.StorePostgres:
		// Open connection synchronously since health checks need it immediately
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		st, err := storepg.New(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.shared, s.close = st, st.Close

	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		st := storeredis.NewWithClient(client)
		s.shared, s.close = st, st.Close

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER: %s", cfg.StoreDriver)
	}

	log.Info().Str("driver", cfg.StoreDriver).Msg("Document store ready")
	return s, nil
}

// Driver returns the configured driver name.
func (s *Stores) Driver() string { return s.driver }

// Shared returns the store common to all bots, or nil for the telegram driver.
func (s *Stores) Shared() store.Documents { return s.shared }

// For returns the store used by the bot behind client.
func (s *Stores) For(client pinned.Bot) store.Documents {
	if s.shared != nil {
		return s.shared
	}
	return pinned.New(client, s.log)
}

// Close releases the shared store.
func (s *Stores) Close() error { return s.close() }
