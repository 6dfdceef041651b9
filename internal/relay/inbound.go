package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmrelay/pmrelay/internal/correlation"
	"github.com/pmrelay/pmrelay/internal/help"
	"github.com/pmrelay/pmrelay/internal/model"
	"github.com/pmrelay/pmrelay/internal/routing"
	"github.com/pmrelay/pmrelay/internal/telegram"
	"github.com/pmrelay/pmrelay/internal/verification"
)

// ErrRejected is returned for a visitor whose topic is banned.
var ErrRejected = errors.New("visitor is banned")

// Delivery is where an inbound message ended up.
type Delivery struct {
	Forwarded      bool
	GroupID        int64
	TopicID        int64
	TopicMessageID int64
	Action         verification.Action
	Outcome        routing.Outcome
}

// ProcessInbound relays a visitor's private message into their topic.
func (s *Service) ProcessInbound(ctx context.Context, m *telegram.Message) (Delivery, error) {
	doc, err := s.loadDirectory(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNotInitialized) {
			s.report(ctx, help.NotInit)
		} else {
			s.report(ctx, fmt.Sprintf("Load directory failed: %v", err))
		}
		return Delivery{}, err
	}
	dir := doc.dir
	v := routing.VisitorFromMessage(m)
	resolver := routing.NewResolver(s.bot, s.greet, doc.persist, s.log)

	res, err := resolver.ResolveOrCreateTopic(ctx, dir, v)
	for {
		if err != nil {
			s.reportResolveError(ctx, dir.SuperGroupID, v, err)
			return Delivery{}, err
		}
		d := Delivery{GroupID: dir.SuperGroupID, TopicID: res.TopicID, Outcome: res.Outcome}

		// banned at the operator level, whatever the challenge sub-state
		if dir.IsBanned(res.TopicID) {
			return d, ErrRejected
		}

		entry, _ := dir.ByTopic(res.TopicID)
		prev := verification.FromStatus(entry.Status)
		dec := s.machine.Step(prev, m.Text, res.Created)
		d.Action = dec.Action
		if dec.Changed {
			dir.SetStatus(res.TopicID, v.ChatID, dec.Next.Status())
			if err := doc.save(ctx); err != nil {
				s.report(ctx, fmt.Sprintf("GROUP %d: save verification state of %d failed: %v", dir.SuperGroupID, v.ChatID, err))
				return d, err
			}
		}
		verificationOutcomes.WithLabelValues(dec.Action.String()).Inc()

		s.answerVisitor(ctx, m, dec)
		if !dec.Forward {
			return d, nil
		}

		fwd, err := s.bot.ForwardMessage(ctx, telegram.ForwardMessageParams{
			ChatID:          dir.SuperGroupID,
			MessageThreadID: res.TopicID,
			FromChatID:      m.Chat.ID,
			MessageID:       m.MessageID,
		})
		if telegram.IsDescription(err, telegram.DescThreadNotFound) {
			s.log.Warn().Int64("topic_id", res.TopicID).Int64("visitor_id", v.ChatID).Msg("Thread not found on forward, resolving again")
			res, err = resolver.ResolveAfterPurge(ctx, dir, v, res)
			continue
		}
		if err != nil {
			s.report(ctx, fmt.Sprintf("FORWARD MESSAGE ERROR! forwardMessageResp: %v message: %s", err, dump(m)))
			return d, err
		}
		d.Forwarded, d.TopicMessageID = true, fwd.MessageID

		if prev.Pending() {
			s.annotate(ctx, d, prev, dec)
		}
		if m.ReplyToMessage != nil {
			s.markReply(ctx, d, m)
		}
		if dec.Action == verification.ActionVerified {
			s.notifyOwner(ctx, d, v)
		}
		s.saveLink(ctx, d.GroupID, correlation.Link{TopicID: d.TopicID, TopicMessageID: d.TopicMessageID, PrivateMessageID: m.MessageID})
		if dec.Action == verification.ActionPass || dec.Action == verification.ActionVerified {
			s.reactEmoji(ctx, m.Chat.ID, m.MessageID, emojiDelivered)
		}
		return d, nil
	}
}

func (s *Service) greet(ctx context.Context, chatID, topicID int64) error {
	_, err := s.bot.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:             chatID,
		MessageThreadID:    topicID,
		Text:               help.CommandReminder(),
		ParseMode:          telegram.ModeMarkdownV2,
		LinkPreviewOptions: &telegram.LinkPreviewOptions{IsDisabled: true},
	})
	return err
}

func (s *Service) reportResolveError(ctx context.Context, groupID int64, v routing.Visitor, err error) {
	var cte *routing.CreateTopicError
	if errors.As(err, &cte) {
		s.report(ctx, fmt.Sprintf("DEBUG MESSAGE! chatId: %d topicName: %s createTopicResp: %v", cte.ChatID, cte.Name, cte.Err))
		return
	}
	s.report(ctx, fmt.Sprintf("GROUP %d: route visitor %d failed: %v", groupID, v.ChatID, err))
}

// answerVisitor sends the welcome and verification texts for dec.
func (s *Service) answerVisitor(ctx context.Context, m *telegram.Message, dec verification.Decision) {
	chatID := m.Chat.ID
	if help.IsStart(m.Text) && dec.Action != verification.ActionAutoBan {
		s.sendMarkdown(ctx, chatID, 0, help.VisitorWelcome)
	}
	switch dec.Action {
	case verification.ActionChallenge:
		s.sendText(ctx, chatID, help.ChallengeText(dec.Challenge.Question()))
	case verification.ActionAutoBan, verification.ActionBanned:
		s.sendText(ctx, chatID, help.AutoBannedText)
	case verification.ActionVerified:
		s.sendText(ctx, chatID, help.VerifiedText)
	case verification.ActionExhausted:
		s.sendText(ctx, chatID, help.ExhaustedText)
	case verification.ActionRetry:
		s.sendText(ctx, chatID, help.RetryText(dec.Challenge.Question()))
	case verification.ActionRemind:
		s.sendText(ctx, chatID, help.RemindText)
	}
}

// annotate tells the operator where an unverified visitor stands.
func (s *Service) annotate(ctx context.Context, d Delivery, prev verification.State, dec verification.Decision) {
	var text string
	switch dec.Action {
	case verification.ActionVerified:
		text = help.AnnotationVerified
	case verification.ActionBanned:
		text = help.AnnotationBanned
	case verification.ActionExhausted:
		text = help.AnnotationExhausted
	case verification.ActionRetry:
		text = help.AnnotationRetry(dec.Challenge.Question())
	case verification.ActionChallenge:
		text = help.AnnotationPending(dec.Challenge.Question())
	case verification.ActionRemind, verification.ActionSilent:
		text = help.AnnotationPending(fmt.Sprintf("Sum equals %d", prev.Answer))
	default:
		return
	}
	s.sendMarkdown(ctx, d.GroupID, d.TopicID, text)
}

// markReply points the operator at the message the visitor replied to.
func (s *Service) markReply(ctx context.Context, d Delivery, m *telegram.Message) {
	link := telegram.MessageLink(d.GroupID, d.TopicID, d.TopicMessageID)
	log := s.loadCorrelation(ctx, d.GroupID, "Can't find ORIGIN message for message REPLAY.")
	if target, ok := routing.ResolveTopicMessageIn(log, d.TopicID, m.ReplyToMessage.MessageID); ok {
		_, err := s.bot.SendMessage(ctx, telegram.SendMessageParams{
			ChatID:          d.GroupID,
			MessageThreadID: d.TopicID,
			Text:            "*⬆️⬆️⬆️[REPLAY](" + link + ")⬆️⬆️⬆️*",
			ParseMode:       telegram.ModeMarkdownV2,
			ReplyParameters: &telegram.ReplyParameters{MessageID: target.TopicMessageID, ChatID: d.GroupID},
		})
		if err == nil {
			return
		}
		s.log.Debug().Err(err).Msg("Reply marker with reply_parameters failed, sending description")
	}
	mine := m.ReplyToMessage.From != nil && m.From != nil && m.ReplyToMessage.From.ID == m.From.ID
	s.sendMarkdown(ctx, d.GroupID, d.TopicID, s.replyBlock(link, m.ReplyToMessage, mine))
}

// notifyOwner tells the owner a visitor passed verification.
func (s *Service) notifyOwner(ctx context.Context, d Delivery, v routing.Visitor) {
	link := telegram.MessageLink(d.GroupID, d.TopicID, d.TopicMessageID)
	text := "New PM chat from " + telegram.EscapeMarkdownV2(v.DisplayName()) +
		"\n[Click the to view it in your SUPERGROUP](" + link + ")"
	_, err := s.bot.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:             s.cfg.OwnerUID,
		Text:               text,
		ParseMode:          telegram.ModeMarkdownV2,
		LinkPreviewOptions: &telegram.LinkPreviewOptions{IsDisabled: true},
	})
	if err != nil {
		s.report(ctx, fmt.Sprintf("New PM chat notify error, text: %s resp: %v", text, err))
	}
}

// EditFromVisitor re-forwards an edited visitor message and links it to the
// copy it replaces.
func (s *Service) EditFromVisitor(ctx context.Context, m *telegram.Message) error {
	var old correlation.Link
	var found bool
	if doc, err := s.loadDirectory(ctx); err == nil {
		if e, ok := doc.dir.ByVisitor(m.Chat.ID); ok {
			log := s.loadCorrelation(ctx, doc.dir.SuperGroupID, "Can't find ORIGIN message for message EDITING.")
			old, found = routing.ResolveTopicMessageIn(log, e.TopicID, m.MessageID)
		}
	}

	d, err := s.ProcessInbound(ctx, m)
	if err != nil || !d.Forwarded {
		return err
	}

	text := "⬆️⬆️⬆️⬆️⬆️⬆️\n*[Message](" + telegram.MessageLink(d.GroupID, d.TopicID, d.TopicMessageID) + ") edited from "
	if found && old.TopicID == d.TopicID {
		text += "[MESSAGE](" + telegram.MessageLink(d.GroupID, d.TopicID, old.TopicMessageID) + ")*"
	} else {
		text += "unknown*"
	}
	s.sendMarkdown(ctx, d.GroupID, d.TopicID, text)
	s.ackEdit(ctx, m.Chat.ID, m.MessageID)
	return nil
}

// DeleteFromVisitor deletes the topic copy of the message a visitor replied
// to with the delete command.
func (s *Service) DeleteFromVisitor(ctx context.Context, m *telegram.Message) error {
	doc, err := s.loadDirectory(ctx)
	if err != nil {
		return err
	}
	e, ok := doc.dir.ByVisitor(m.Chat.ID)
	if !ok {
		return nil
	}
	groupID := doc.dir.SuperGroupID
	log := s.loadCorrelation(ctx, groupID, "Can't find ORIGIN message for message DELETING.")
	link, ok := routing.ResolveTopicMessageIn(log, e.TopicID, m.ReplyToMessage.MessageID)
	if !ok {
		s.sendText(ctx, m.Chat.ID, "SEND DELETING MESSAGE ERROR! The original message is unknown or too old."+deleteErrorHint)
		return nil
	}
	if err := s.bot.DeleteMessage(ctx, groupID, link.TopicMessageID); err != nil {
		s.sendText(ctx, m.Chat.ID, fmt.Sprintf("SEND DELETING MESSAGE ERROR! deleteMessageResp: %v message: %s.%s", err, dump(m), deleteErrorHint))
		return err
	}
	s.reactEmoji(ctx, m.Chat.ID, m.MessageID, emojiDeleted)
	s.sendMarkdown(ctx, m.Chat.ID, 0, "*Message has been DELETED*\\."+
		"\nYou can delete the *\\[ORIGIN MESSAGE\\]* and *\\[COMMAND MESSAGE\\]* and *\\[THIS MESSAGE\\]* for yourself\\."+
		" Limited by TG I can't do it for you, sorry\\.")
	return nil
}

const deleteErrorHint = "\nYou can send this to developer for getting help, or just delete this message."
