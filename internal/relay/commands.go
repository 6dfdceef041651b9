package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmrelay/pmrelay/internal/directory"
	"github.com/pmrelay/pmrelay/internal/help"
	"github.com/pmrelay/pmrelay/internal/model"
	"github.com/pmrelay/pmrelay/internal/pinrenew"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

const (
	initFailed      = "init failed, please try again"
	initCheckFailed = "init check failed, please do init or try again"
)

// Ban stops relaying the topic's visitor. Unless silent the visitor is told.
func (s *Service) Ban(ctx context.Context, m *telegram.Message, silent bool) error {
	return s.setBan(ctx, m, true, silent)
}

// Unban resumes relaying the topic's visitor. Unless silent the visitor is told.
func (s *Service) Unban(ctx context.Context, m *telegram.Message, silent bool) error {
	return s.setBan(ctx, m, false, silent)
}

func (s *Service) setBan(ctx context.Context, m *telegram.Message, banned, silent bool) error {
	t, ok, err := s.target(ctx, m)
	if err != nil || !ok {
		return err
	}
	groupID, topicID := t.groupID, t.topicID
	if !t.doc.dir.SetBan(topicID, banned) {
		if banned {
			s.sendTopicText(ctx, groupID, topicID, help.AlreadyBanned)
		} else {
			s.sendTopicText(ctx, groupID, topicID, help.NotBanned)
		}
		return nil
	}
	if err := t.doc.save(ctx); err != nil {
		s.report(ctx, fmt.Sprintf("GROUP %d: save ban state of topic %d failed: %v", groupID, topicID, err))
		return err
	}
	s.log.Info().Int64("topic_id", topicID).Int64("visitor_id", t.entry.VisitorID).Bool("banned", banned).Bool("silent", silent).Msg("Topic ban changed")

	reply, notice := help.UnbanSuccess, help.VisitorUnbanned
	if banned {
		reply, notice = help.BanSuccess, help.VisitorBanned
	}
	s.sendTopicText(ctx, groupID, topicID, reply)
	if !silent {
		s.sendText(ctx, t.entry.VisitorID, notice)
	}
	return nil
}

// RenameTopic records the label the owner put in front of a "|" in the topic
// name. A name without "|" clears the label.
func (s *Service) RenameTopic(ctx context.Context, m *telegram.Message) error {
	doc, err := s.loadDirectory(ctx)
	if errors.Is(err, model.ErrNotInitialized) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc.dir.SuperGroupID != m.Chat.ID || m.ForumTopicEdited.Name == "" {
		return nil
	}
	e, ok := doc.dir.ByTopic(m.MessageThreadID)
	if !ok {
		return nil
	}
	label := directory.LabelFromTopicName(m.ForumTopicEdited.Name)
	if !doc.dir.SetLabel(e.TopicID, e.VisitorID, label) {
		return nil
	}
	if err := doc.save(ctx); err != nil {
		s.report(ctx, fmt.Sprintf("GROUP %d: save label of topic %d failed: %v", doc.dir.SuperGroupID, e.TopicID, err))
		return err
	}
	s.log.Info().Int64("topic_id", e.TopicID).Str("label", label).Msg("Topic label saved")
	return nil
}

// Init binds the owner's directory to the group the command was sent in.
func (s *Service) Init(ctx context.Context, m *telegram.Message) error {
	groupID := m.Chat.ID
	if _, err := s.loadDirectory(ctx); err == nil {
		s.report(ctx, help.AlreadyInit)
		return nil
	} else if !errors.Is(err, model.ErrNotInitialized) {
		s.report(ctx, fmt.Sprintf("GROUP %d: %s %v", groupID, initFailed, err))
		return err
	}
	if _, err := s.docs.Create(ctx, s.directoryKey(), directory.New(groupID).String()); err != nil {
		s.report(ctx, fmt.Sprintf("GROUP %d: %s %v", groupID, initFailed, err))
		return err
	}
	s.log.Info().Int64("group_id", groupID).Msg("Relay initialized")
	return s.CheckInit(ctx, m)
}

// CheckInit tells the owner whether the group the command was sent in is
// the one the directory is bound to.
func (s *Service) CheckInit(ctx context.Context, m *telegram.Message) error {
	groupID := m.Chat.ID
	doc, err := s.loadDirectory(ctx)
	if err != nil {
		s.report(ctx, fmt.Sprintf("GROUP %d: %s", groupID, initCheckFailed))
		if errors.Is(err, model.ErrNotInitialized) {
			return nil
		}
		return err
	}
	if doc.dir.SuperGroupID != groupID {
		s.report(ctx, fmt.Sprintf("GROUP %d: init failed! Cause already init GROUP %d", groupID, doc.dir.SuperGroupID))
		return nil
	}
	s.report(ctx, fmt.Sprintf("GROUP %d: init success!", groupID))
	s.RenewDocuments(ctx)
	return nil
}

// Reset forgets the directory. From a group it is only allowed in the bound
// group; from the owner's private chat it always is.
func (s *Service) Reset(ctx context.Context, m *telegram.Message, inOwnerChat bool) error {
	doc, err := s.loadDirectory(ctx)
	if errors.Is(err, model.ErrNotInitialized) {
		s.report(ctx, help.NotInit)
		return nil
	}
	if err != nil {
		s.report(ctx, help.ResetFailed)
		return err
	}
	if !inOwnerChat && doc.dir.SuperGroupID != m.Chat.ID {
		s.report(ctx, help.ResetWrongChat)
		return nil
	}
	if err := s.docs.Reset(ctx, s.directoryKey()); err != nil {
		s.report(ctx, help.ResetFailed)
		return err
	}
	s.log.Info().Int64("group_id", doc.dir.SuperGroupID).Msg("Relay reset")
	s.report(ctx, help.ResetSuccess)
	return nil
}

// RenewDocuments rewrites the directory and the group's correlation log when
// the store ages documents out. It is a no-op for other stores.
func (s *Service) RenewDocuments(ctx context.Context) []pinrenew.Outcome {
	if s.cfg.PinMaxAge <= 0 {
		return nil
	}
	return pinrenew.RenewBot(ctx, pinrenew.Bot{ID: s.cfg.BotID, OwnerUID: s.cfg.OwnerUID, Docs: s.docs}, s.cfg.PinMaxAge, s.log)
}
