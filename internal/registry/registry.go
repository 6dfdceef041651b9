// Package registry builds and caches one relay.Service per bot the webhook names.
package registry

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/api"
	"github.com/pmrelay/pmrelay/internal/config"
	"github.com/pmrelay/pmrelay/internal/pinrenew"
	"github.com/pmrelay/pmrelay/internal/relay"
	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/store/pinned"
	"github.com/pmrelay/pmrelay/internal/telegram"
	"github.com/pmrelay/pmrelay/internal/verification"
)

// Stores returns the document store of a bot.
type Stores interface {
	For(client pinned.Bot) store.Documents
}

type entry struct {
	client  *telegram.Client
	docs    store.Documents
	service *relay.Service
}

// Registry implements api.Bots.
//
// With BOTS configured only the listed token and owner pairs are served.
// Without it any token is accepted and its service is built on first use.
type Registry struct {
	cfg     *config.Config
	stores  Stores
	log     zerolog.Logger
	allowed map[string]int64
	opts    []relay.Option

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithServiceOptions passes opts to every relay.Service built.
func WithServiceOptions(opts ...relay.Option) Option {
	return func(r *Registry) { r.opts = append(r.opts, opts...) }
}

// New builds a registry over cfg.
func New(cfg *config.Config, stores Stores, log zerolog.Logger, opts ...Option) (*Registry, error) {
	creds, err := cfg.BotCredentials()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		cfg:     cfg,
		stores:  stores,
		log:     log,
		allowed: make(map[string]int64, len(creds)),
		entries: make(map[string]*entry),
	}
	for _, c := range creds {
		r.allowed[c.Token] = c.OwnerUID
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Lookup returns the service for token and ownerUID.
func (r *Registry) Lookup(token string, ownerUID int64) (api.UpdateHandler, error) {
	e, err := r.get(token, ownerUID)
	if err != nil {
		return nil, err
	}
	return e.service, nil
}

// Clients returns the clients of the configured bots.
func (r *Registry) Clients() []*telegram.Client {
	var out []*telegram.Client
	for token, owner := range r.allowed {
		if e, err := r.get(token, owner); err == nil {
			out = append(out, e.client)
		}
	}
	return out
}

// RenewalBots lists the configured bots for the pin renewal worker.
func (r *Registry) RenewalBots() []pinrenew.Bot {
	var out []pinrenew.Bot
	for token, owner := range r.allowed {
		e, err := r.get(token, owner)
		if err != nil {
			r.log.Warn().Err(err).Msg("Skip bot for pin renewal")
			continue
		}
		out = append(out, pinrenew.Bot{ID: e.client.BotID(), OwnerUID: owner, Docs: e.docs})
	}
	return out
}

func (r *Registry) get(token string, ownerUID int64) (*entry, error) {
	if telegram.BotIDFromToken(token) == 0 {
		return nil, fmt.Errorf("malformed bot token: %w", api.ErrUnknownBot)
	}
	if len(r.allowed) > 0 {
		owner, ok := r.allowed[token]
		if !ok || owner != ownerUID {
			return nil, api.ErrUnknownBot
		}
	}

	key := token + "/" + strconv.FormatInt(ownerUID, 10)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e, nil
	}

	client := telegram.New(r.cfg.TelegramAPIURL, token,
		time.Duration(r.cfg.TelegramTimeoutSeconds)*time.Second,
		telegram.WithLogger(r.log))
	docs := r.stores.For(client)
	machine := verification.NewMachine(verification.WithLocation(r.cfg.VerifyLocation()))
	svc := relay.New(client, docs, machine, relay.Config{
		BotID:     client.BotID(),
		OwnerUID:  ownerUID,
		Location:  r.cfg.DisplayLocation(),
		PinMaxAge: r.pinMaxAge(),
	}, r.log, r.opts...)

	e := &entry{client: client, docs: docs, service: svc}
	r.entries[key] = e
	r.log.Info().Int64("bot_id", client.BotID()).Int64("owner_uid", ownerUID).Msg("Bot registered")
	return e, nil
}

func (r *Registry) pinMaxAge() time.Duration {
	if !r.cfg.PinRenewEnabled {
		return 0
	}
	return r.cfg.PinRenewMaxAge()
}
