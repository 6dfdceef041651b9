// Package correlation encodes the per-group log that pairs forum message ids
// with private chat message ids:
//
//	<topicId>-<topicMessageId>:<privateMessageId>;...
//
// The log is append-only and bounded. When an append pushes it past the cap
// the oldest links are dropped, so very old messages stop resolving.
package correlation

import (
	"strconv"
	"strings"

	"github.com/pmrelay/pmrelay/internal/directory"
)

// DefaultCap is the platform message ceiling, in UTF-16 units.
const DefaultCap = directory.MaxLen

// Link pairs one forwarded topic message with its private chat counterpart.
type Link struct {
	TopicID          int64 `json:"topic_id" yaml:"topic_id"`
	TopicMessageID   int64 `json:"topic_message_id" yaml:"topic_message_id"`
	PrivateMessageID int64 `json:"private_message_id" yaml:"private_message_id"`
}

func (l Link) String() string {
	return strconv.FormatInt(l.TopicID, 10) + "-" +
		strconv.FormatInt(l.TopicMessageID, 10) + ":" +
		strconv.FormatInt(l.PrivateMessageID, 10)
}

// Log is the decoded document, oldest link first.
type Log struct {
	Links []Link `json:"links" yaml:"links"`
	Cap   int    `json:"-" yaml:"-"`
}

// New returns an empty log bounded by capacity (DefaultCap when <= 0).
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Log{Cap: capacity}
}

// Parse decodes text, skipping links that do not decode.
func Parse(text string, capacity int) *Log {
	l := New(capacity)
	text = strings.TrimSpace(text)
	if text == "" {
		return l
	}
	for _, raw := range strings.Split(text, ";") {
		if link, ok := parseLink(raw); ok {
			l.Links = append(l.Links, link)
		}
	}
	return l
}

func parseLink(raw string) (Link, bool) {
	left, right, ok := strings.Cut(raw, ":")
	if !ok {
		return Link{}, false
	}
	topic, msg, ok := strings.Cut(left, "-")
	if !ok {
		return Link{}, false
	}
	topicID, err1 := strconv.ParseInt(topic, 10, 64)
	topicMsgID, err2 := strconv.ParseInt(msg, 10, 64)
	pmID, err3 := strconv.ParseInt(right, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || topicMsgID == 0 || pmID == 0 {
		return Link{}, false
	}
	return Link{TopicID: topicID, TopicMessageID: topicMsgID, PrivateMessageID: pmID}, true
}

// String encodes the log.
func (l *Log) String() string {
	parts := make([]string, len(l.Links))
	for i, link := range l.Links {
		parts[i] = link.String()
	}
	return strings.Join(parts, ";")
}

// Append adds link and evicts the oldest links until the document fits the cap.
// It never deduplicates. The number of evicted links is returned.
func (l *Log) Append(link Link) int {
	if l.Cap <= 0 {
		l.Cap = DefaultCap
	}
	l.Links = append(l.Links, link)

	size := directory.Len(l.String())
	evicted := 0
	for size > l.Cap && len(l.Links) > 0 {
		size -= directory.Len(l.Links[0].String())
		if len(l.Links) > 1 {
			size-- // separator
		}
		l.Links = l.Links[1:]
		evicted++
	}
	return evicted
}

// ResolveByPrivateMessageID returns the newest link for a private chat message.
func (l *Log) ResolveByPrivateMessageID(id int64) (Link, bool) {
	for i := len(l.Links) - 1; i >= 0; i-- {
		if l.Links[i].PrivateMessageID == id {
			return l.Links[i], true
		}
	}
	return Link{}, false
}

// ResolvePrivateInTopic is ResolveByPrivateMessageID restricted to one topic.
// Private message ids are only unique per chat, so a visitor-side lookup
// must be scoped to that visitor's topic.
func (l *Log) ResolvePrivateInTopic(topicID, id int64) (Link, bool) {
	for i := len(l.Links) - 1; i >= 0; i-- {
		if l.Links[i].TopicID == topicID && l.Links[i].PrivateMessageID == id {
			return l.Links[i], true
		}
	}
	return Link{}, false
}

// ResolveByTopicMessageID returns the newest link for a forum message.
func (l *Log) ResolveByTopicMessageID(id int64) (Link, bool) {
	for i := len(l.Links) - 1; i >= 0; i-- {
		if l.Links[i].TopicMessageID == id {
			return l.Links[i], true
		}
	}
	return Link{}, false
}

// Len is the encoded size in UTF-16 units.
func (l *Log) Len() int { return directory.Len(l.String()) }
