package telegram

import (
	"strconv"
	"strings"
)

var markdownV2Escaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// EscapeMarkdownV2 escapes the MarkdownV2 reserved characters in s.
func EscapeMarkdownV2(s string) string { return markdownV2Escaper.Replace(s) }

// MessageLink builds a t.me link to a message inside a forum topic.
// Supergroup ids lose their -100 prefix; topicID 0 omits the topic segment.
func MessageLink(chatID, topicID, messageID int64) string {
	id := strconv.FormatInt(chatID, 10)
	id = strings.TrimPrefix(id, "-100")

	var b strings.Builder
	b.WriteString("https://t.me/c/")
	b.WriteString(id)
	b.WriteByte('/')
	if topicID != 0 {
		b.WriteString(strconv.FormatInt(topicID, 10))
		b.WriteByte('/')
	}
	b.WriteString(strconv.FormatInt(messageID, 10))
	return b.String()
}
