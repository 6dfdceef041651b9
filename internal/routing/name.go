package routing

import (
	"strconv"
	"strings"

	"github.com/pmrelay/pmrelay/internal/telegram"
)

const (
	// MaxTopicNameLen is the longest name the relay asks for, in runes.
	MaxTopicNameLen = 127
	// hardTopicNameLen is the platform limit; longer candidates fall back to shorter forms.
	hardTopicNameLen = 128
)

// Visitor identifies the private chat a message came from.
type Visitor struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// VisitorFromMessage builds a Visitor from a private chat message.
func VisitorFromMessage(m *telegram.Message) Visitor {
	v := Visitor{
		ChatID:    m.Chat.ID,
		UserID:    m.Chat.ID,
		Username:  m.Chat.Username,
		FirstName: m.Chat.FirstName,
		LastName:  m.Chat.LastName,
	}
	if m.From != nil {
		v.UserID = m.From.ID
	}
	return v
}

// DisplayName is @username, or the first and last name.
func (v Visitor) DisplayName() string {
	if v.Username != "" {
		return "@" + v.Username
	}
	return strings.TrimSpace(strings.Join(nonEmpty(v.FirstName, v.LastName), " "))
}

// TopicName derives the forum topic name for v:
//
//	[<label> | ]<display name> (<chatId>)[(<userId>)]
//
// The display name is cut to leave room for the label and id suffix, and
// progressively shorter forms are used while the result exceeds the platform limit.
func TopicName(v Visitor, label string) string {
	id := strconv.FormatInt(v.ChatID, 10)
	reserved := len(id) + 6

	prefix := ""
	if label != "" {
		prefix = label + " | "
	}
	maxName := MaxTopicNameLen - (runeLen(prefix) + reserved)
	prefix = truncate(prefix, MaxTopicNameLen-reserved)

	name := truncate(v.DisplayName(), maxName)
	name = strings.ReplaceAll(name, "|", "｜")

	suffix := "(" + id + ")"
	if v.UserID != 0 && v.UserID != v.ChatID {
		suffix += "(" + strconv.FormatInt(v.UserID, 10) + ")"
	}

	candidates := []string{
		prefix + name + " " + suffix,
		prefix + name + " (" + id + ")",
		prefix + " (" + id + ")",
	}
	for _, c := range candidates {
		if runeLen(c) <= hardTopicNameLen {
			return c
		}
	}
	return truncate("("+id+")", MaxTopicNameLen)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func runeLen(s string) int { return len([]rune(s)) }

func nonEmpty(ss ...string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
