package relay

import (
	"context"
	"errors"

	"github.com/pmrelay/pmrelay/internal/model"
	"github.com/pmrelay/pmrelay/internal/routing"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

// ReactionFromVisitor mirrors a visitor's reaction onto the topic copy.
func (s *Service) ReactionFromVisitor(ctx context.Context, r *telegram.MessageReactionUpdated) error {
	doc, err := s.loadDirectory(ctx)
	if errors.Is(err, model.ErrNotInitialized) {
		return nil
	}
	if err != nil {
		return err
	}
	e, ok := doc.dir.ByVisitor(r.Chat.ID)
	if !ok || doc.dir.IsBanned(e.TopicID) {
		return nil
	}
	groupID := doc.dir.SuperGroupID
	log := s.loadCorrelation(ctx, groupID, "Can't find ORIGIN message for EMOJI REACTION.")
	link, ok := routing.ResolveTopicMessageIn(log, e.TopicID, r.MessageID)
	if !ok {
		s.log.Debug().Int64("visitor_id", r.Chat.ID).Int64("message_id", r.MessageID).Msg("Reaction on an unknown message")
		return nil
	}
	s.react(ctx, groupID, link.TopicMessageID, r.NewReaction)
	return nil
}

// ReactionFromOwner mirrors the owner's reaction in a topic onto the
// visitor's copy. Clearing a reaction restores the delivery mark.
func (s *Service) ReactionFromOwner(ctx context.Context, r *telegram.MessageReactionUpdated) error {
	doc, err := s.loadDirectory(ctx)
	if errors.Is(err, model.ErrNotInitialized) {
		return nil
	}
	if err != nil {
		return err
	}
	groupID := doc.dir.SuperGroupID
	if groupID != r.Chat.ID {
		return nil
	}
	log := s.loadCorrelation(ctx, groupID, "Can't find TARGET message for EMOJI REACTION.")
	link, ok := routing.ResolveVisitorMessage(log, r.MessageID)
	if !ok {
		s.log.Debug().Int64("message_id", r.MessageID).Msg("Reaction on an unrelayed topic message")
		return nil
	}
	e, ok := doc.dir.ByTopic(link.TopicID)
	if !ok {
		return nil
	}
	reaction := r.NewReaction
	if len(reaction) == 0 {
		reaction = []telegram.ReactionType{telegram.Emoji(emojiDelivered)}
	}
	s.react(ctx, e.VisitorID, link.PrivateMessageID, reaction)
	return nil
}
