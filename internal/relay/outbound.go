package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pmrelay/pmrelay/internal/correlation"
	"github.com/pmrelay/pmrelay/internal/directory"
	"github.com/pmrelay/pmrelay/internal/help"
	"github.com/pmrelay/pmrelay/internal/model"
	"github.com/pmrelay/pmrelay/internal/routing"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

// topicTarget is the visitor behind an owner's topic message.
type topicTarget struct {
	doc     *directoryDoc
	groupID int64
	topicID int64
	entry   directory.Entry
}

// target resolves the visitor of m's topic. ok is false when m is not in the
// directory's group or the topic has no visitor; the owner is told when it matters.
func (s *Service) target(ctx context.Context, m *telegram.Message) (topicTarget, bool, error) {
	doc, err := s.loadDirectory(ctx)
	if errors.Is(err, model.ErrNotInitialized) {
		s.report(ctx, help.NotInit)
		return topicTarget{}, false, nil
	}
	if err != nil {
		s.report(ctx, fmt.Sprintf("Load directory failed: %v", err))
		return topicTarget{}, false, err
	}
	if doc.dir.SuperGroupID != m.Chat.ID {
		s.log.Debug().Int64("chat_id", m.Chat.ID).Int64("group_id", doc.dir.SuperGroupID).Msg("Message outside the relay group")
		return topicTarget{}, false, nil
	}
	t := topicTarget{doc: doc, groupID: m.Chat.ID, topicID: m.MessageThreadID}
	e, ok := doc.dir.ByTopic(m.MessageThreadID)
	if !ok {
		return t, false, nil
	}
	t.entry = e
	return t, true, nil
}

// ProcessOutbound copies an owner's topic message to the visitor.
func (s *Service) ProcessOutbound(ctx context.Context, m *telegram.Message) error {
	t, ok, err := s.target(ctx, m)
	if err != nil || !ok {
		if err == nil && t.doc != nil {
			s.report(ctx, fmt.Sprintf("SEND MESSAGE ERROR! topic %d has no visitor. message: %s", m.MessageThreadID, dump(m)))
		}
		return err
	}
	return s.copyToVisitor(ctx, t, m, false)
}

func (s *Service) copyToVisitor(ctx context.Context, t topicTarget, m *telegram.Message, noReply bool) error {
	visitorID := t.entry.VisitorID

	var (
		replyTo   int64
		replyText string
	)
	if !noReply && isReplyInTopic(m) {
		replyText = m.ReplyToMessage.Text
		log := s.loadCorrelation(ctx, t.groupID, "Can't find TARGET message for sending message REPLAY.")
		if link, ok := routing.ResolveVisitorMessage(log, m.ReplyToMessage.MessageID); ok {
			replyTo = link.PrivateMessageID
		}
	}

	p := telegram.CopyMessageParams{ChatID: visitorID, FromChatID: t.groupID, MessageID: m.MessageID}
	if replyTo != 0 {
		p.ReplyParameters = &telegram.ReplyParameters{MessageID: replyTo, ChatID: visitorID}
	}
	copied, err := s.bot.CopyMessage(ctx, p)
	if err != nil {
		if !noReply && isReplyError(err) {
			s.log.Debug().Err(err).Msg("Reply target gone, copying without reply")
			return s.copyToVisitor(ctx, t, m, true)
		}
		s.report(ctx, fmt.Sprintf("SEND MESSAGE ERROR! copyMessageResp: %v message: %s", err, dump(m)))
		return err
	}

	s.saveLink(ctx, t.groupID, correlation.Link{TopicID: t.topicID, TopicMessageID: m.MessageID, PrivateMessageID: copied.MessageID})
	if replyTo == 0 && replyText != "" {
		mine := m.ReplyToMessage.From != nil && m.ReplyToMessage.From.ID == s.cfg.OwnerUID
		s.send(ctx, telegram.SendMessageParams{
			ChatID:             visitorID,
			Text:               s.replyQuote(m.ReplyToMessage, mine),
			ParseMode:          telegram.ModeMarkdownV2,
			LinkPreviewOptions: &telegram.LinkPreviewOptions{IsDisabled: true},
		})
	}
	s.reactEmoji(ctx, t.groupID, m.MessageID, emojiDelivered)
	return nil
}

func isReplyError(err error) bool {
	apiErr, ok := telegram.AsAPIError(err)
	return ok && (apiErr.Contains(telegram.DescReplyNotFound) || strings.Contains(apiErr.Description, "repl"))
}

// EditFromOwner applies an owner's text edit to the visitor's copy.
func (s *Service) EditFromOwner(ctx context.Context, m *telegram.Message) error {
	t, ok, err := s.target(ctx, m)
	if err != nil || !ok {
		return err
	}
	log := s.loadCorrelation(ctx, t.groupID, "Can't find TARGET message for sending message editing.")
	if log == nil {
		return nil
	}
	link, ok := routing.ResolveVisitorMessage(log, m.MessageID)
	if !ok {
		s.sendMarkdown(ctx, t.groupID, t.topicID, "Can't find TARGET message for sending [message]("+
			telegram.MessageLink(t.groupID, t.topicID, m.MessageID)+") EDITING\\.")
		return nil
	}
	if m.Text == "" {
		s.log.Debug().Int64("message_id", m.MessageID).Msg("Only text edits are relayed")
		return nil
	}
	_, err = s.bot.EditMessageText(ctx, telegram.EditMessageTextParams{
		ChatID:    t.entry.VisitorID,
		MessageID: link.PrivateMessageID,
		Text:      m.Text,
		Entities:  m.Entities,
	})
	if err != nil {
		s.report(ctx, fmt.Sprintf("SEND EDITED MESSAGE ERROR! editMessageTextResp: %v message: %s.%s", err, dump(m), deleteErrorHint))
		return err
	}
	s.ackEdit(ctx, t.groupID, m.MessageID)
	return nil
}

// DeleteFromOwner deletes the visitor's copy of the message the owner replied
// to with the delete command, then clears the topic.
func (s *Service) DeleteFromOwner(ctx context.Context, m *telegram.Message) error {
	t, ok, err := s.target(ctx, m)
	if err != nil || !ok {
		return err
	}
	origin := m.ReplyToMessage.MessageID
	originLink := telegram.MessageLink(t.groupID, t.topicID, origin)

	log := s.loadCorrelation(ctx, t.groupID, "Can't find TARGET message for sending message DELETING.")
	if log == nil {
		return nil
	}
	link, ok := routing.ResolveVisitorMessage(log, origin)
	if !ok {
		s.sendMarkdown(ctx, t.groupID, t.topicID, "Can't find TARGET message for sending [message]("+originLink+") DELETING\\.")
		return nil
	}
	if err := s.bot.DeleteMessage(ctx, t.entry.VisitorID, link.PrivateMessageID); err != nil {
		s.send(ctx, telegram.SendMessageParams{
			ChatID:          t.groupID,
			MessageThreadID: t.topicID,
			Text:            fmt.Sprintf("SEND DELETING MESSAGE ERROR! deleteMessageResp: %v message: %s.%s", err, dump(m), deleteErrorHint),
		})
		return err
	}

	s.reactEmoji(ctx, t.groupID, m.MessageID, emojiDeleted)
	commandLink := telegram.MessageLink(t.groupID, t.topicID, m.MessageID)
	notice := s.sendMarkdown(ctx, t.groupID, t.topicID, "*[MESSAGE]("+originLink+") has been DELETED*\\."+
		"These three Message will be deleted after 1s automatically\\."+
		"\nOr You can delete the *[ORIGIN MESSAGE]("+originLink+")*"+
		" and *[COMMAND MESSAGE]("+commandLink+")*"+
		" and *\\[THIS MESSAGE\\]* for yourself\\.")
	if notice == nil {
		return nil
	}
	if err := s.sleep(ctx, ackDelay); err != nil {
		return err
	}
	for _, id := range []int64{origin, m.MessageID, notice.MessageID} {
		if err := s.bot.DeleteMessage(ctx, t.groupID, id); err != nil {
			s.log.Warn().Err(err).Int64("message_id", id).Msg("Cleanup after delete failed")
		}
	}
	return nil
}
