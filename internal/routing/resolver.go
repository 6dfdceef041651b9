// Package routing maps visitors to forum topics and forum messages to private
// chat messages.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/correlation"
	"github.com/pmrelay/pmrelay/internal/directory"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

// MaxStaleRetries bounds how often a stale topic is purged and resolved again
// within one inbound event.
const MaxStaleRetries = 1

// ErrStaleTopic is returned when the forum keeps reporting the topic as gone
// after the retry budget is spent.
var ErrStaleTopic = errors.New("topic is stale after retry")

// Forum is the part of the Bot API the resolver needs.
type Forum interface {
	CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error)
	EditForumTopic(ctx context.Context, chatID, threadID int64, name string) error
}

// Greeter posts the first-contact text into a freshly created topic.
type Greeter func(ctx context.Context, chatID, topicID int64) error

// Persist writes the directory back to its store.
type Persist func(ctx context.Context, d *directory.Directory) error

// Outcome tells how the topic was obtained.
type Outcome int

const (
	OutcomeExisting Outcome = iota
	OutcomeCreated
	OutcomeRecreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeRecreated:
		return "recreated"
	default:
		return "existing"
	}
}

// Resolution is the result of ResolveOrCreateTopic.
type Resolution struct {
	TopicID int64
	Entry   directory.Entry
	// Name is the topic name derived for this visitor.
	Name string
	// Created is true when a topic was created during this call.
	Created bool
	// Purged is true when a stale entry was dropped; the retry budget is spent.
	Purged  bool
	Outcome Outcome
}

// CreateTopicError reports a failed createForumTopic call.
type CreateTopicError struct {
	ChatID int64
	Name   string
	Err    error
}

func (e *CreateTopicError) Error() string {
	return fmt.Sprintf("create topic %q in %d: %v", e.Name, e.ChatID, e.Err)
}

func (e *CreateTopicError) Unwrap() error { return e.Err }

// Resolver resolves visitors to topics, creating topics on first contact.
type Resolver struct {
	forum   Forum
	greet   Greeter
	persist Persist
	log     zerolog.Logger
}

// NewResolver wires a resolver. greet may be nil.
func NewResolver(forum Forum, greet Greeter, persist Persist, log zerolog.Logger) *Resolver {
	return &Resolver{forum: forum, greet: greet, persist: persist, log: log}
}

// ResolveOrCreateTopic finds the visitor's topic, creating it when missing.
// A mapped topic the forum reports as invalid is purged and resolved again,
// at most MaxStaleRetries times. dir is mutated and persisted in place.
func (r *Resolver) ResolveOrCreateTopic(ctx context.Context, dir *directory.Directory, v Visitor) (Resolution, error) {
	return r.resolve(ctx, dir, v, MaxStaleRetries, Resolution{})
}

// ResolveAfterPurge drops staleTopicID and resolves again with whatever retry
// budget prev left. It is used when a forward reports the thread is gone.
func (r *Resolver) ResolveAfterPurge(ctx context.Context, dir *directory.Directory, v Visitor, prev Resolution) (Resolution, error) {
	if prev.Purged {
		return prev, ErrStaleTopic
	}
	if err := r.Purge(ctx, dir, prev.TopicID); err != nil {
		return prev, err
	}
	return r.resolve(ctx, dir, v, MaxStaleRetries-1, Resolution{Purged: true, Entry: prev.Entry})
}

func (r *Resolver) resolve(ctx context.Context, dir *directory.Directory, v Visitor, retries int, res Resolution) (Resolution, error) {
	// the label survives a purge so the recreated topic keeps it
	label := res.Entry.Label
	if e, ok := dir.ByVisitor(v.ChatID); ok {
		label = e.Label
	}
	name := TopicName(v, label)

	for pass := 0; pass <= retries; pass++ {
		e, ok := dir.ByVisitor(v.ChatID)
		created := false
		if !ok {
			var err error
			e, err = r.create(ctx, dir, v, name, label)
			if err != nil {
				return res, err
			}
			created = true
		}

		// Renaming doubles as an existence probe. Any failure other than an
		// invalid topic id (TOPIC_NOT_MODIFIED, rights) leaves the topic usable.
		err := r.forum.EditForumTopic(ctx, dir.SuperGroupID, e.TopicID, name)
		if err == nil || !telegram.IsDescription(err, telegram.DescTopicIDInvalid) {
			res.TopicID, res.Entry, res.Name = e.TopicID, e, name
			res.Created = res.Created || created
			switch {
			case res.Purged && res.Created:
				res.Outcome = OutcomeRecreated
			case res.Created:
				res.Outcome = OutcomeCreated
			default:
				res.Outcome = OutcomeExisting
			}
			return res, nil
		}

		r.log.Warn().Int64("topic_id", e.TopicID).Int64("visitor_id", v.ChatID).Msg("Topic is gone, purging entry")
		if err := r.Purge(ctx, dir, e.TopicID); err != nil {
			return res, err
		}
		res.Purged = true
	}
	return res, ErrStaleTopic
}

func (r *Resolver) create(ctx context.Context, dir *directory.Directory, v Visitor, name, label string) (directory.Entry, error) {
	topic, err := r.forum.CreateForumTopic(ctx, dir.SuperGroupID, name)
	if err == nil && topic.MessageThreadID == 0 {
		err = errors.New("no message_thread_id in response")
	}
	if err != nil {
		return directory.Entry{}, &CreateTopicError{ChatID: dir.SuperGroupID, Name: name, Err: err}
	}

	dir.UpsertVisitor(topic.MessageThreadID, v.ChatID, directory.NewVisitorStatus(), label)
	if err := r.persist(ctx, dir); err != nil {
		return directory.Entry{}, fmt.Errorf("persist new topic %d: %w", topic.MessageThreadID, err)
	}
	createdTopicsTotal.Inc()

	if r.greet != nil {
		if err := r.greet(ctx, dir.SuperGroupID, topic.MessageThreadID); err != nil {
			r.log.Warn().Err(err).Int64("topic_id", topic.MessageThreadID).Msg("Failed to post command reminder")
		}
	}
	e, _ := dir.ByTopic(topic.MessageThreadID)
	return e, nil
}

// Purge removes the entry for topicID and persists the directory.
func (r *Resolver) Purge(ctx context.Context, dir *directory.Directory, topicID int64) error {
	if !dir.RemoveEntry(topicID) {
		return nil
	}
	if err := r.persist(ctx, dir); err != nil {
		return fmt.Errorf("persist purge of topic %d: %w", topicID, err)
	}
	stalePurgesTotal.Inc()
	return nil
}

// ResolveVisitorMessage maps a forum message to its private chat counterpart.
func ResolveVisitorMessage(log *correlation.Log, topicMessageID int64) (correlation.Link, bool) {
	if log == nil {
		return correlation.Link{}, false
	}
	return log.ResolveByTopicMessageID(topicMessageID)
}

// ResolveTopicMessage maps a private chat message to its forum counterpart.
func ResolveTopicMessage(log *correlation.Log, privateMessageID int64) (correlation.Link, bool) {
	if log == nil {
		return correlation.Link{}, false
	}
	return log.ResolveByPrivateMessageID(privateMessageID)
}

// ResolveTopicMessageIn is ResolveTopicMessage scoped to the visitor's topic.
func ResolveTopicMessageIn(log *correlation.Log, topicID, privateMessageID int64) (correlation.Link, bool) {
	if log == nil {
		return correlation.Link{}, false
	}
	return log.ResolvePrivateInTopic(topicID, privateMessageID)
}
