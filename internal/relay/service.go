// Package relay turns Telegram updates into relay actions for one bot.
//
// Visitor private messages are forwarded into a forum topic per visitor, and
// the owner's topic messages are copied back. The visitor directory and the
// message correlation log live in a store.Documents; every handler reads,
// mutates and writes them back in one piece.
package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/help"
	"github.com/pmrelay/pmrelay/internal/routing"
	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/telegram"
	"github.com/pmrelay/pmrelay/internal/verification"
)

// Bot is the subset of the Bot API the relay calls.
type Bot interface {
	routing.Forum
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (*telegram.Message, error)
	EditMessageText(ctx context.Context, p telegram.EditMessageTextParams) (*telegram.Message, error)
	ForwardMessage(ctx context.Context, p telegram.ForwardMessageParams) (*telegram.Message, error)
	CopyMessage(ctx context.Context, p telegram.CopyMessageParams) (*telegram.MessageID, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SetMessageReaction(ctx context.Context, chatID, messageID int64, reaction []telegram.ReactionType) error
}

// Config identifies the bot a Service works for.
type Config struct {
	BotID    int64
	OwnerUID int64
	// Location is used to print reply dates. Defaults to UTC.
	Location *time.Location
	// CorrelationCap bounds the correlation log. Defaults to correlation.DefaultCap.
	CorrelationCap int
	// PinMaxAge triggers pin renewal on the setup commands when the store supports it.
	PinMaxAge time.Duration
}

// Service handles the updates of one bot.
type Service struct {
	bot     Bot
	docs    store.Documents
	machine *verification.Machine
	cfg     Config
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Service.
type Option func(*Service)

// WithSleep replaces the pause between acknowledgement steps.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = f }
}

// New builds a Service.
func New(bot Bot, docs store.Documents, machine *verification.Machine, cfg Config, log zerolog.Logger, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		bot:     bot,
		docs:    docs,
		machine: machine,
		cfg:     cfg,
		log:     log.With().Int64("bot_id", cfg.BotID).Logger(),
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OwnerUID returns the owner this service reports to.
func (s *Service) OwnerUID() int64 { return s.cfg.OwnerUID }

// HandleUpdate routes one update. Failures are reported to the owner where
// they concern them; the returned error is for logging only.
func (s *Service) HandleUpdate(ctx context.Context, u *telegram.Update) error {
	kind, err := s.route(ctx, u)
	result := "ok"
	if err != nil {
		result = "error"
		s.log.Error().Stack().Err(err).Int64("update_id", u.UpdateID).Str("kind", kind).Msg("Update failed")
	}
	updatesHandled.WithLabelValues(kind, result).Inc()
	return err
}

func (s *Service) route(ctx context.Context, u *telegram.Update) (string, error) {
	switch {
	case u.Message != nil:
		return s.routeMessage(ctx, u.Message)
	case u.EditedMessage != nil:
		return s.routeEdit(ctx, u.EditedMessage)
	case u.MessageReaction != nil:
		return s.routeReaction(ctx, u.MessageReaction)
	}
	return "ignored", nil
}

func (s *Service) routeMessage(ctx context.Context, m *telegram.Message) (string, error) {
	switch m.Chat.Type {
	case telegram.ChatPrivate:
		if m.Chat.ID == s.cfg.OwnerUID {
			if m.Text == help.CmdReset {
				return "reset", s.Reset(ctx, m, true)
			}
			return "ignored", nil
		}
		if m.From != nil && m.From.IsBot {
			return "ignored", nil
		}
		if m.Text == help.CmdDelete && m.ReplyToMessage != nil {
			return "visitor_delete", s.DeleteFromVisitor(ctx, m)
		}
		_, err := s.ProcessInbound(ctx, m)
		return "inbound", err

	case telegram.ChatSupergroup, telegram.ChatGroup:
		if m.ForumTopicEdited != nil {
			return "topic_renamed", s.RenameTopic(ctx, m)
		}
		if m.From == nil || m.From.ID != s.cfg.OwnerUID {
			return "ignored", nil
		}
		switch m.Text {
		case help.CmdInit:
			return "init", s.Init(ctx, m)
		case help.CmdCheckInit:
			return "check_init", s.CheckInit(ctx, m)
		case help.CmdReset:
			return "reset", s.Reset(ctx, m, false)
		}
		if m.MessageThreadID == 0 || !m.IsTopicMessage || m.ForumTopicCreated != nil {
			return "ignored", nil
		}
		switch m.Text {
		case help.CmdBan:
			return "ban", s.Ban(ctx, m, false)
		case help.CmdSilentBan:
			return "ban", s.Ban(ctx, m, true)
		case help.CmdUnban:
			return "unban", s.Unban(ctx, m, false)
		case help.CmdSilentUnban:
			return "unban", s.Unban(ctx, m, true)
		}
		if m.Text == help.CmdDelete && isReplyInTopic(m) {
			return "owner_delete", s.DeleteFromOwner(ctx, m)
		}
		return "outbound", s.ProcessOutbound(ctx, m)
	}
	return "ignored", nil
}

func (s *Service) routeEdit(ctx context.Context, m *telegram.Message) (string, error) {
	switch m.Chat.Type {
	case telegram.ChatPrivate:
		if m.Chat.ID == s.cfg.OwnerUID || m.From != nil && m.From.IsBot {
			return "ignored", nil
		}
		return "visitor_edit", s.EditFromVisitor(ctx, m)
	case telegram.ChatSupergroup, telegram.ChatGroup:
		if m.From == nil || m.From.ID != s.cfg.OwnerUID || m.MessageThreadID == 0 {
			return "ignored", nil
		}
		return "owner_edit", s.EditFromOwner(ctx, m)
	}
	return "ignored", nil
}

func (s *Service) routeReaction(ctx context.Context, r *telegram.MessageReactionUpdated) (string, error) {
	if r.User == nil {
		return "ignored", nil
	}
	switch r.Chat.Type {
	case telegram.ChatPrivate:
		if r.Chat.ID == s.cfg.OwnerUID {
			return "ignored", nil
		}
		return "visitor_reaction", s.ReactionFromVisitor(ctx, r)
	case telegram.ChatSupergroup, telegram.ChatGroup:
		if r.User.ID != s.cfg.OwnerUID {
			return "ignored", nil
		}
		return "owner_reaction", s.ReactionFromOwner(ctx, r)
	}
	return "ignored", nil
}

// isReplyInTopic is true for a reply to a message other than the topic root.
func isReplyInTopic(m *telegram.Message) bool {
	return m.ReplyToMessage != nil && m.ReplyToMessage.MessageID != m.MessageThreadID
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
