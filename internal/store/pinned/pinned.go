// Package pinned keeps each document as the pinned message of its chat.
//
// The document lives in Telegram itself: Load reads the chat's pinned message,
// Create sends and pins a new one, Save edits it in place. Pins are rewritten
// before Telegram stops returning them (see Renew).
package pinned

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

const descNotModified = "message is not modified"

// Bot is the subset of the Bot API the store needs.
type Bot interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	GetChat(ctx context.Context, chatID int64) (*telegram.ChatFullInfo, error)
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (*telegram.Message, error)
	EditMessageText(ctx context.Context, p telegram.EditMessageTextParams) (*telegram.Message, error)
	PinChatMessage(ctx context.Context, chatID, messageID int64, silent bool) error
	UnpinChatMessage(ctx context.Context, chatID, messageID int64) error
	UnpinAllChatMessages(ctx context.Context, chatID int64) error
}

// Store implements store.Documents and store.Renewer for one bot.
type Store struct {
	bot Bot
	log zerolog.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to age pins.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a store writing through bot.
func New(bot Bot, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{bot: bot, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Load(ctx context.Context, key store.Key) (*store.Blob, error) {
	chat, err := s.bot.GetChat(ctx, key.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	m := chat.PinnedMessage
	if m == nil || m.Text == "" {
		return nil, fmt.Errorf("load %s: %w", key, store.ErrNotFound)
	}
	return blobOf(m), nil
}

func (s *Store) Create(ctx context.Context, key store.Key, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	m, err := s.bot.SendMessage(ctx, telegram.SendMessageParams{ChatID: key.ChatID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("create %s: send: %w", key, err)
	}
	if err := s.bot.PinChatMessage(ctx, key.ChatID, m.MessageID, true); err != nil {
		return nil, fmt.Errorf("create %s: pin: %w", key, err)
	}
	return blobOf(m), nil
}

// Save edits the pinned message. The pin date is kept, so a saved document
// still ages toward renewal.
func (s *Store) Save(ctx context.Context, key store.Key, prev *store.Blob, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	if prev == nil {
		var err error
		if prev, err = s.Load(ctx, key); err != nil {
			return nil, err
		}
	}
	next := &store.Blob{Text: text, Version: prev.Version, UpdatedAt: prev.UpdatedAt}
	if prev.Text == text {
		return next, nil
	}
	_, err := s.bot.EditMessageText(ctx, telegram.EditMessageTextParams{
		ChatID:    key.ChatID,
		MessageID: prev.Version,
		Text:      text,
	})
	if err != nil && !telegram.IsDescription(err, descNotModified) {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	return next, nil
}

// Reset unpins every message of the chat.
func (s *Store) Reset(ctx context.Context, key store.Key) error {
	if err := s.bot.UnpinAllChatMessages(ctx, key.ChatID); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

// Renew re-sends and re-pins the document when it is more than maxAge whole
// days old. A failure to unpin the old copy is logged and the renewal still
// counts.
func (s *Store) Renew(ctx context.Context, key store.Key, maxAge time.Duration) (bool, error) {
	cur, err := s.Load(ctx, key)
	if err != nil {
		return false, err
	}
	days := ageDays(s.now(), cur.UpdatedAt)
	if days <= int(maxAge/(24*time.Hour)) {
		s.log.Debug().Str("key", key.String()).Int("age_days", days).Msg("Pin is fresh")
		return false, nil
	}

	m, err := s.bot.SendMessage(ctx, telegram.SendMessageParams{ChatID: key.ChatID, Text: cur.Text})
	if err != nil {
		return false, fmt.Errorf("renew %s: send: %w", key, err)
	}
	if err := s.bot.PinChatMessage(ctx, key.ChatID, m.MessageID, true); err != nil {
		return false, fmt.Errorf("renew %s: pin: %w", key, err)
	}
	if err := s.bot.UnpinChatMessage(ctx, key.ChatID, cur.Version); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Int64("old_message_id", cur.Version).Msg("Pin renewed but failed to unpin old message")
	}
	s.log.Info().Str("key", key.String()).Int("age_days", days).Int64("message_id", m.MessageID).Msg("Pin renewed")
	return true, nil
}

// HealthPing checks the bot token.
func (s *Store) HealthPing(ctx context.Context) error {
	_, err := s.bot.GetMe(ctx)
	return err
}

func ageDays(now, then time.Time) int {
	return int(now.Sub(then) / (24 * time.Hour))
}

func blobOf(m *telegram.Message) *store.Blob {
	return &store.Blob{Text: m.Text, Version: m.MessageID, UpdatedAt: m.Time()}
}

var (
	_ store.Documents = (*Store)(nil)
	_ store.Renewer   = (*Store)(nil)
)
