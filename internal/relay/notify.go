package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pmrelay/pmrelay/internal/telegram"
)

// Reactions the relay uses as delivery receipts.
const (
	emojiDelivered = "🕊"
	emojiEdited    = "🦄"
	emojiDeleted   = "🗿"
)

const (
	ackDelay       = time.Second
	replyQuoteLen  = 128
	replyDateStamp = "2006-01-02 15:04:05"
)

// report sends a plain text to the owner. Failures are only logged.
func (s *Service) report(ctx context.Context, text string) {
	s.send(ctx, telegram.SendMessageParams{ChatID: s.cfg.OwnerUID, Text: text})
}

// send posts p and logs a failure.
func (s *Service) send(ctx context.Context, p telegram.SendMessageParams) *telegram.Message {
	m, err := s.bot.SendMessage(ctx, p)
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", p.ChatID).Int64("thread_id", p.MessageThreadID).Msg("sendMessage failed")
		return nil
	}
	return m
}

func (s *Service) sendText(ctx context.Context, chatID int64, text string) *telegram.Message {
	return s.send(ctx, telegram.SendMessageParams{ChatID: chatID, Text: text})
}

func (s *Service) sendTopicText(ctx context.Context, chatID, threadID int64, text string) *telegram.Message {
	return s.send(ctx, telegram.SendMessageParams{ChatID: chatID, MessageThreadID: threadID, Text: text})
}

func (s *Service) sendMarkdown(ctx context.Context, chatID, threadID int64, text string) *telegram.Message {
	return s.send(ctx, telegram.SendMessageParams{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Text:            text,
		ParseMode:       telegram.ModeMarkdownV2,
	})
}

// react sets reaction on a message. Too many reactions are retried with the
// last one only and invalid reactions are dropped.
func (s *Service) react(ctx context.Context, chatID, messageID int64, reaction []telegram.ReactionType) {
	err := s.bot.SetMessageReaction(ctx, chatID, messageID, reaction)
	switch {
	case err == nil:
	case telegram.IsDescription(err, telegram.DescReactionsTooMany) && len(reaction) > 1:
		if err := s.bot.SetMessageReaction(ctx, chatID, messageID, reaction[len(reaction)-1:]); err != nil {
			s.log.Warn().Err(err).Int64("chat_id", chatID).Int64("message_id", messageID).Msg("setMessageReaction retry failed")
		}
	case telegram.IsDescription(err, telegram.DescReactionInvalid):
	default:
		s.log.Warn().Err(err).Int64("chat_id", chatID).Int64("message_id", messageID).Msg("setMessageReaction failed")
	}
}

func (s *Service) reactEmoji(ctx context.Context, chatID, messageID int64, emoji string) {
	s.react(ctx, chatID, messageID, []telegram.ReactionType{telegram.Emoji(emoji)})
}

// ackEdit flashes 🦄 then settles on 🕊.
func (s *Service) ackEdit(ctx context.Context, chatID, messageID int64) {
	s.reactEmoji(ctx, chatID, messageID, emojiEdited)
	if err := s.sleep(ctx, ackDelay); err != nil {
		return
	}
	s.reactEmoji(ctx, chatID, messageID, emojiDelivered)
}

func (s *Service) replyDate(unix int64) string {
	return time.Unix(unix, 0).In(s.cfg.Location).Format(replyDateStamp)
}

// replyHeader is the bold first line of a reply marker. link may be empty.
func replyHeader(link string, mine bool) string {
	h := "*⬆️⬆️⬆️REPLAY"
	if link != "" {
		h = "*⬆️⬆️⬆️[REPLAY](" + link + ")"
	}
	if mine {
		return h + " MINE⬇️⬇️⬇️*"
	}
	return h + " YOURS⬇️⬇️⬇️*"
}

// replyBlock describes the replied-to message inside a topic when it cannot
// be replied to directly.
func (s *Service) replyBlock(link string, reply *telegram.Message, mine bool) string {
	var b strings.Builder
	b.WriteString(replyHeader(link, mine))
	if reply.Date != 0 {
		b.WriteString("\n*" + telegram.EscapeMarkdownV2(s.replyDate(reply.Date)) + "*")
	}
	if reply.Text == "" {
		b.WriteString("\n*❎❎❎UNKNOWN❎❎❎*")
		return b.String()
	}
	b.WriteString("\n```\n")
	b.WriteString(codeEscaper.Replace(truncateRunes(reply.Text, replyQuoteLen)))
	b.WriteString("\n```")
	return b.String()
}

// replyQuote quotes the replied-to text line by line for the visitor.
func (s *Service) replyQuote(reply *telegram.Message, mine bool) string {
	var b strings.Builder
	b.WriteString(replyHeader("", mine))
	if reply.Date != 0 {
		b.WriteString("\n*" + telegram.EscapeMarkdownV2(s.replyDate(reply.Date)) + "*")
	}
	for _, line := range strings.Split(reply.Text, "\n") {
		b.WriteString("\n>" + telegram.EscapeMarkdownV2(line))
	}
	return b.String()
}

var codeEscaper = strings.NewReplacer("\\", "\\\\", "`", "\\`")

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// dump renders v for an error report.
func dump(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
