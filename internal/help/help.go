// Package help holds the static texts the relay sends.
package help

import (
	"strings"

	"github.com/pmrelay/pmrelay/internal/telegram"
)

// Operator commands, typed inside a topic or the group.
const (
	CmdBan          = ".!pm_RUbot_ban!."
	CmdUnban        = ".!pm_RUbot_unban!."
	CmdSilentBan    = ".!pm_RUbot_silent_ban!."
	CmdSilentUnban  = ".!pm_RUbot_silent_unban!."
	CmdInit         = ".!pm_RUbot_doinit!."
	CmdCheckInit    = ".!pm_RUbot_checkinit!."
	CmdReset        = ".!pm_RUbot_doreset!."
	CmdDelete       = "#del"
	CmdStart        = "/start"
	startWithTarget = CmdStart + "@"
)

type command struct {
	name, description string
}

var topicCommands = []command{
	{CmdBan, "Block the topic where the command was sent, stop forwarding messages from the corresponding chat, and send a message to inform the other party that they have been banned."},
	{CmdUnban, "Unblock the topic where the command was sent, and send a message to inform the other party that they have been unbanned."},
	{CmdSilentBan, "Block the topic where the command was sent. stop forwarding messages from the corresponding chat."},
	{CmdSilentUnban, "Unblock the topic where the command was sent."},
}

// CommandReminder is posted in every new topic (MarkdownV2).
func CommandReminder() string {
	text := "**Available Commands:**"
	for _, c := range topicCommands {
		text += "\n\n➡️`" + c.name + "`⬅️" +
			"\n↗️*Press or Click to copy:*⬆️" +
			"\n**>DESCRIPTION:**" +
			"\n>" + telegram.EscapeMarkdownV2(c.description) + "||"
	}
	return text
}

// VisitorWelcome answers a visitor's /start (MarkdownV2).
const VisitorWelcome = "*Hello\\!*\n\n" +
	"Messages you send here are relayed to the owner of this bot, and replies come back in this chat\\.\n\n" +
	"• Reply to a message with `#del` to delete the relayed copy\\.\n" +
	"• Edits and reactions are relayed too\\.\n" +
	"• A 🕊 reaction means your message was delivered\\."

// IsStart reports whether text is the /start command, optionally addressed to a bot.
func IsStart(text string) bool {
	return text == CmdStart || strings.HasPrefix(text, startWithTarget)
}

// Visitor-facing verification texts (plain).
const (
	VerifiedText   = "Verification successful! Your messages will now be forwarded to the admin."
	AutoBannedText = "You have been automatically banned due to repeated verification failures."
	ExhaustedText  = "You have used all verification attempts for today. Please try again tomorrow."
	RemindText     = "Please complete the verification first by answering the math question. Reply with just the number."
)

// ChallengeText asks a visitor to solve question.
func ChallengeText(question string) string {
	return "To prevent spam, please solve this simple math problem:\n\n" + question + "\n\nPlease reply with just the number."
}

// RetryText follows a wrong answer with a fresh question.
func RetryText(question string) string {
	return "Incorrect answer. Please try again:\n\n" + question + "\n\nPlease reply with just the number."
}

// Topic annotations posted after forwarding an unverified visitor's message (MarkdownV2).
const (
	AnnotationVerified  = "✅ *VERIFICATION SUCCESSFUL*\n\n_Visitor has been verified\\. Future messages will trigger notifications\\._"
	AnnotationBanned    = "🚫 *AUTO\\-BANNED*\n\n_Visitor has been automatically banned due to repeated verification failures\\._"
	AnnotationExhausted = "⏰ *ATTEMPTS EXHAUSTED*\n\n_Visitor has used all verification attempts for today\\._"
)

// AnnotationRetry reports a wrong answer and the new question.
func AnnotationRetry(question string) string {
	if question == "" {
		question = "New challenge sent"
	}
	return "❌ *WRONG ANSWER*\n\nNew challenge sent: `" + telegram.EscapeMarkdownV2(question) + "`"
}

// AnnotationPending reports the challenge an unverified visitor still owes.
func AnnotationPending(challenge string) string {
	return "⚠️ *UNVERIFIED VISITOR*\n\nChallenge sent: `" + telegram.EscapeMarkdownV2(challenge) + "`\n\n_Waiting for verification\\.\\.\\._"
}

// Ban command replies.
const (
	AlreadyBanned   = "This topic already been BANNED!"
	BanSuccess      = "Successfully BAN this topic for receiving private message!"
	VisitorBanned   = "You have been BANNED for sending messages!"
	NotBanned       = "This topic has NOT benn banned!"
	UnbanSuccess    = "Successfully UN-BAN this topic for receiving private message!"
	VisitorUnbanned = "You have been UN-BANNED for sending messages!"
)

// Setup replies.
const (
	AlreadyInit    = "already init!"
	NotInit        = "not init yet!"
	ResetSuccess   = "Reset success!"
	ResetFailed    = "Reset failed!"
	ResetWrongChat = "Can't reset from group isn't current using!"
)
