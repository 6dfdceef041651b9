package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmrelay/pmrelay/internal/correlation"
	"github.com/pmrelay/pmrelay/internal/directory"
	"github.com/pmrelay/pmrelay/internal/help"
	"github.com/pmrelay/pmrelay/internal/routing"
	"github.com/pmrelay/pmrelay/internal/store"
	"github.com/pmrelay/pmrelay/internal/store/memory"
	"github.com/pmrelay/pmrelay/internal/telegram"
	"github.com/pmrelay/pmrelay/internal/telegram/telegramtest"
	"github.com/pmrelay/pmrelay/internal/verification"
)

const (
	botID     = 42
	ownerUID  = 900
	groupID   = -100123
	visitorID = 555
	topicID   = 77
)

var owner = &telegram.User{ID: ownerUID, FirstName: "Owner"}

// zeroRand draws 1 + 1 for every challenge.
type zeroRand struct{}

func (zeroRand) IntN(int) int { return 0 }

type env struct {
	srv  *telegramtest.Server
	docs *memory.Store
	svc  *Service
	ctx  context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv := telegramtest.NewServer(t)
	bot := telegram.New(srv.URL, "42:secret", 5*time.Second)
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	machine := verification.NewMachine(
		verification.WithRand(zeroRand{}),
		verification.WithClock(verification.ClockFunc(func() time.Time { return day })),
	)
	docs := memory.New()
	svc := New(bot, docs, machine, Config{BotID: botID, OwnerUID: ownerUID}, zerolog.Nop(),
		WithSleep(func(context.Context, time.Duration) error { return nil }))
	return &env{srv: srv, docs: docs, svc: svc, ctx: context.Background()}
}

// initGroup binds the directory to groupID without going through the command.
func (e *env) initGroup(t *testing.T) {
	t.Helper()
	_, err := e.docs.Create(e.ctx, store.DirectoryKey(botID, ownerUID), directory.New(groupID).String())
	require.NoError(t, err)
}

// seedVisitor maps topicID to a verified visitor whose topic exists.
func (e *env) seedVisitor(t *testing.T, status directory.Status) {
	t.Helper()
	dir := directory.New(groupID)
	dir.UpsertVisitor(topicID, visitorID, status, "")
	_, err := e.docs.Create(e.ctx, store.DirectoryKey(botID, ownerUID), dir.String())
	require.NoError(t, err)
	e.srv.AddTopic(groupID, topicID, "Ann (555)")
}

func (e *env) seedLinks(t *testing.T, links ...correlation.Link) {
	t.Helper()
	log := correlation.New(correlation.DefaultCap)
	for _, l := range links {
		log.Append(l)
	}
	_, err := e.docs.Create(e.ctx, store.CorrelationKey(botID, groupID), log.String())
	require.NoError(t, err)
}

func (e *env) directory(t *testing.T) *directory.Directory {
	t.Helper()
	b, err := e.docs.Load(e.ctx, store.DirectoryKey(botID, ownerUID))
	require.NoError(t, err)
	dir, err := directory.Parse(b.Text)
	require.NoError(t, err)
	return dir
}

func (e *env) links(t *testing.T) *correlation.Log {
	t.Helper()
	b, err := e.docs.Load(e.ctx, store.CorrelationKey(botID, groupID))
	require.NoError(t, err)
	return correlation.Parse(b.Text, correlation.DefaultCap)
}

func (e *env) visitorSays(text string) *telegram.Message {
	m := e.srv.AddMessage(telegram.Message{
		Chat: telegram.Chat{ID: visitorID, Type: telegram.ChatPrivate, FirstName: "Ann"},
		From: &telegram.User{ID: visitorID, FirstName: "Ann"},
		Text: text,
	})
	return &m
}

func (e *env) ownerSays(thread int64, text string) *telegram.Message {
	m := e.srv.AddMessage(telegram.Message{
		Chat:            telegram.Chat{ID: groupID, Type: telegram.ChatSupergroup, IsForum: true},
		From:            owner,
		MessageThreadID: thread,
		IsTopicMessage:  thread != 0,
		Text:            text,
	})
	return &m
}

func (e *env) handle(t *testing.T, u *telegram.Update) error {
	t.Helper()
	return e.svc.HandleUpdate(e.ctx, u)
}

// texts returns the texts the bot sent to chatID, optionally inside one thread.
func (e *env) texts(chatID int64, thread ...int64) []string {
	var out []string
	for _, c := range e.srv.Calls("sendMessage") {
		if c.Int("chat_id") != chatID {
			continue
		}
		if len(thread) > 0 && c.Int("message_thread_id") != thread[0] {
			continue
		}
		out = append(out, c.Str("text"))
	}
	return out
}

func emojis(rs []telegram.ReactionType) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Emoji)
	}
	return out
}

func TestInbound_FirstContactCreatesTopicAndChallenges(t *testing.T) {
	e := newEnv(t)
	e.initGroup(t)

	m := e.visitorSays("hello there")
	d, err := e.svc.ProcessInbound(e.ctx, m)
	require.NoError(t, err)

	assert.True(t, d.Forwarded)
	assert.Equal(t, routing.OutcomeCreated, d.Outcome)
	assert.Equal(t, verification.ActionChallenge, d.Action)
	assert.Contains(t, e.srv.Topics(groupID), d.TopicID)

	fwd := e.srv.Message(groupID, d.TopicMessageID)
	require.NotNil(t, fwd)
	assert.Equal(t, "hello there", fwd.Text)

	topicTexts := e.texts(groupID, d.TopicID)
	require.Len(t, topicTexts, 2)
	assert.Equal(t, help.CommandReminder(), topicTexts[0])
	assert.Contains(t, topicTexts[1], "UNVERIFIED VISITOR")
	assert.Equal(t, []string{help.ChallengeText("1 + 1 = ?")}, e.texts(visitorID))

	entry, ok := e.directory(t).ByVisitor(visitorID)
	require.True(t, ok)
	assert.Equal(t, directory.Unverified, entry.Status.Kind)
	assert.Equal(t, 2, entry.Status.Challenge.Answer)

	link, ok := e.links(t).ResolveByPrivateMessageID(m.MessageID)
	require.True(t, ok)
	assert.Equal(t, d.TopicMessageID, link.TopicMessageID)

	assert.Empty(t, e.srv.Reactions(visitorID, m.MessageID), "unverified messages get no delivery mark")
}

func TestInbound_CorrectAnswerVerifiesAndNotifiesOwner(t *testing.T) {
	e := newEnv(t)
	e.initGroup(t)

	_, err := e.svc.ProcessInbound(e.ctx, e.visitorSays("hi"))
	require.NoError(t, err)

	answer := e.visitorSays("2")
	d, err := e.svc.ProcessInbound(e.ctx, answer)
	require.NoError(t, err)
	assert.Equal(t, verification.ActionVerified, d.Action)
	assert.True(t, d.Forwarded)

	entry, _ := e.directory(t).ByVisitor(visitorID)
	assert.Equal(t, directory.Verified, entry.Status.Kind)

	assert.Contains(t, e.texts(visitorID), help.VerifiedText)
	assert.Contains(t, e.texts(groupID, d.TopicID), help.AnnotationVerified)
	ownerTexts := e.texts(ownerUID)
	require.Len(t, ownerTexts, 1)
	assert.True(t, strings.HasPrefix(ownerTexts[0], "New PM chat from Ann"))
	assert.Equal(t, []string{emojiDelivered}, emojis(e.srv.Reactions(visitorID, answer.MessageID)))
}

func TestInbound_VerifiedVisitorPassesThrough(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())

	m := e.visitorSays("question")
	d, err := e.svc.ProcessInbound(e.ctx, m)
	require.NoError(t, err)

	assert.Equal(t, routing.OutcomeExisting, d.Outcome)
	assert.Equal(t, verification.ActionPass, d.Action)
	assert.Equal(t, int64(topicID), d.TopicID)
	assert.Empty(t, e.texts(visitorID))
	assert.Empty(t, e.texts(groupID, topicID))
	assert.Equal(t, []string{emojiDelivered}, emojis(e.srv.Reactions(visitorID, m.MessageID)))
}

func TestInbound_NotInitialized(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.ProcessInbound(e.ctx, e.visitorSays("hi"))
	require.Error(t, err)
	assert.Equal(t, []string{help.NotInit}, e.texts(ownerUID))
	assert.Empty(t, e.srv.Calls("forwardMessage"))
}

func TestInbound_BannedTopicIsRejected(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.BannedStatus())

	_, err := e.svc.ProcessInbound(e.ctx, e.visitorSays("let me in"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, e.srv.Calls("forwardMessage"))
}

func TestInbound_DeletedTopicIsRecreated(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	e.srv.DeleteTopic(groupID, topicID)

	d, err := e.svc.ProcessInbound(e.ctx, e.visitorSays("are you there"))
	require.NoError(t, err)

	assert.Equal(t, routing.OutcomeRecreated, d.Outcome)
	assert.NotEqual(t, int64(topicID), d.TopicID)
	assert.True(t, d.Forwarded)
	entry, ok := e.directory(t).ByVisitor(visitorID)
	require.True(t, ok)
	assert.Equal(t, d.TopicID, entry.TopicID)
	assert.Equal(t, directory.Unverified, entry.Status.Kind, "a recreated topic challenges the visitor again")
	assert.Equal(t, []string{help.ChallengeText("1 + 1 = ?")}, e.texts(visitorID))
	_, stale := e.directory(t).ByTopic(topicID)
	assert.False(t, stale)
}

func TestInbound_ThreadNotFoundOnForwardRecreates(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	e.srv.FailNext("forwardMessage", 400, "Bad Request: message thread not found")

	d, err := e.svc.ProcessInbound(e.ctx, e.visitorSays("hello"))
	require.NoError(t, err)
	assert.Equal(t, routing.OutcomeRecreated, d.Outcome)
	assert.True(t, d.Forwarded)
	assert.Len(t, e.srv.Calls("forwardMessage"), 2)
}

func TestInbound_ReplyIsMarkedInTopic(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	topicMsg := e.ownerSays(topicID, "earlier answer")
	copied := e.srv.AddMessage(telegram.Message{
		Chat: telegram.Chat{ID: visitorID, Type: telegram.ChatPrivate},
		Text: "earlier answer",
	})
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: topicMsg.MessageID, PrivateMessageID: copied.MessageID})

	m := e.visitorSays("following up")
	m.ReplyToMessage = &copied
	_, err := e.svc.ProcessInbound(e.ctx, m)
	require.NoError(t, err)

	var marker *telegramtest.Call
	for _, c := range e.srv.Calls("sendMessage") {
		if c.Int("chat_id") == groupID && strings.Contains(c.Str("text"), "REPLAY") {
			c := c
			marker = &c
		}
	}
	require.NotNil(t, marker)
	reply, ok := marker.Params["reply_parameters"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, topicMsg.MessageID, telegramtest.Call{Params: reply}.Int("message_id"))
}

func TestOutbound_CopiesToVisitor(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())

	m := e.ownerSays(topicID, "hello from the owner")
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 1, Message: m}))

	got := e.srv.Messages(visitorID)
	require.Len(t, got, 1)
	assert.Equal(t, "hello from the owner", got[0].Text)

	link, ok := e.links(t).ResolveByTopicMessageID(m.MessageID)
	require.True(t, ok)
	assert.Equal(t, got[0].MessageID, link.PrivateMessageID)
	assert.Equal(t, []string{emojiDelivered}, emojis(e.srv.Reactions(groupID, m.MessageID)))
}

func TestOutbound_ReplyToRelayedMessage(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	pm := e.visitorSays("original question")
	fwd := e.ownerSays(topicID, "original question")
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: fwd.MessageID, PrivateMessageID: pm.MessageID})

	m := e.ownerSays(topicID, "the answer")
	m.ReplyToMessage = fwd
	require.NoError(t, e.svc.ProcessOutbound(e.ctx, m))

	copies := e.srv.Calls("copyMessage")
	require.Len(t, copies, 1)
	reply, ok := copies[0].Params["reply_parameters"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, pm.MessageID, telegramtest.Call{Params: reply}.Int("message_id"))
	assert.Empty(t, e.texts(visitorID), "a resolved reply needs no quote")
}

func TestOutbound_ReplyTargetGoneRetriesWithoutReply(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	fwd := e.ownerSays(topicID, "deleted by the visitor")
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: fwd.MessageID, PrivateMessageID: 4242})

	m := e.ownerSays(topicID, "still answering")
	m.ReplyToMessage = fwd
	require.NoError(t, e.svc.ProcessOutbound(e.ctx, m))

	copies := e.srv.Calls("copyMessage")
	require.Len(t, copies, 2)
	assert.NotContains(t, copies[1].Params, "reply_parameters")
	assert.Empty(t, e.texts(ownerUID))
	assert.Equal(t, []string{emojiDelivered}, emojis(e.srv.Reactions(groupID, m.MessageID)))
}

func TestOutbound_UnresolvedReplyIsQuoted(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	e.seedLinks(t)
	note := e.ownerSays(topicID, "note to self")

	m := e.ownerSays(topicID, "see above")
	m.ReplyToMessage = note
	require.NoError(t, e.svc.ProcessOutbound(e.ctx, m))

	visitorTexts := e.texts(visitorID)
	require.Len(t, visitorTexts, 1)
	assert.Contains(t, visitorTexts[0], "MINE")
	assert.Contains(t, visitorTexts[0], ">note to self")
}

func TestOutbound_TopicWithoutVisitorIsReported(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	e.srv.AddTopic(groupID, 777, "scratch")

	require.NoError(t, e.svc.ProcessOutbound(e.ctx, e.ownerSays(777, "hello?")))
	assert.Empty(t, e.srv.Calls("copyMessage"))
	ownerTexts := e.texts(ownerUID)
	require.Len(t, ownerTexts, 1)
	assert.True(t, strings.HasPrefix(ownerTexts[0], "SEND MESSAGE ERROR!"))
}

func TestEditFromOwner_EditsVisitorCopy(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	topicMsg := e.ownerSays(topicID, "helo")
	copied := e.srv.AddMessage(telegram.Message{Chat: telegram.Chat{ID: visitorID, Type: telegram.ChatPrivate}, Text: "helo"})
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: topicMsg.MessageID, PrivateMessageID: copied.MessageID})

	edited := *topicMsg
	edited.Text = "hello"
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 2, EditedMessage: &edited}))

	assert.Equal(t, "hello", e.srv.Message(visitorID, copied.MessageID).Text)
	reacts := e.srv.Calls("setMessageReaction")
	require.Len(t, reacts, 2)
	assert.Equal(t, []string{emojiDelivered}, emojis(e.srv.Reactions(groupID, topicMsg.MessageID)))
}

func TestEditFromOwner_UnknownTarget(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	e.seedLinks(t)

	m := e.ownerSays(topicID, "typo")
	require.NoError(t, e.svc.EditFromOwner(e.ctx, m))
	topicTexts := e.texts(groupID, topicID)
	require.Len(t, topicTexts, 1)
	assert.Contains(t, topicTexts[0], "Can't find TARGET message for sending [message](")
	assert.Empty(t, e.srv.Calls("editMessageText"))
}

func TestDeleteFromOwner_RemovesBothSides(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	origin := e.ownerSays(topicID, "oops")
	copied := e.srv.AddMessage(telegram.Message{Chat: telegram.Chat{ID: visitorID, Type: telegram.ChatPrivate}, Text: "oops"})
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: origin.MessageID, PrivateMessageID: copied.MessageID})

	cmd := e.ownerSays(topicID, help.CmdDelete)
	cmd.ReplyToMessage = origin
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 3, Message: cmd}))

	assert.Nil(t, e.srv.Message(visitorID, copied.MessageID))
	assert.Nil(t, e.srv.Message(groupID, origin.MessageID))
	assert.Nil(t, e.srv.Message(groupID, cmd.MessageID))
	for _, m := range e.srv.Messages(groupID) {
		assert.NotEqual(t, int64(topicID), m.MessageThreadID, "notice should be cleaned up: %q", m.Text)
	}
}

func TestDeleteFromOwner_FailureIsPostedInTopic(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	origin := e.ownerSays(topicID, "old")
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: origin.MessageID, PrivateMessageID: 4242})

	cmd := e.ownerSays(topicID, help.CmdDelete)
	cmd.ReplyToMessage = origin
	require.Error(t, e.svc.DeleteFromOwner(e.ctx, cmd))

	topicTexts := e.texts(groupID, topicID)
	require.Len(t, topicTexts, 1)
	assert.True(t, strings.HasPrefix(topicTexts[0], "SEND DELETING MESSAGE ERROR!"))
	assert.NotNil(t, e.srv.Message(groupID, origin.MessageID))
}

func TestDeleteFromVisitor(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	pm := e.visitorSays("regret")
	fwd := e.ownerSays(topicID, "regret")
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: fwd.MessageID, PrivateMessageID: pm.MessageID})

	cmd := e.visitorSays(help.CmdDelete)
	cmd.ReplyToMessage = pm
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 4, Message: cmd}))

	assert.Nil(t, e.srv.Message(groupID, fwd.MessageID))
	assert.Equal(t, []string{emojiDeleted}, emojis(e.srv.Reactions(visitorID, cmd.MessageID)))
	assert.Empty(t, e.srv.Calls("forwardMessage"), "the command itself is not relayed")
}

func TestEditFromVisitor_LinksOldMessage(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	pm := e.visitorSays("first draft")
	fwd := e.ownerSays(topicID, "first draft")
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: fwd.MessageID, PrivateMessageID: pm.MessageID})

	edited := *pm
	edited.Text = "second draft"
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 5, EditedMessage: &edited}))

	topicTexts := e.texts(groupID, topicID)
	require.Len(t, topicTexts, 1)
	assert.Contains(t, topicTexts[0], "edited from [MESSAGE](")
	assert.Len(t, e.srv.Calls("forwardMessage"), 1)
	assert.Equal(t, []string{emojiDelivered}, emojis(e.srv.Reactions(visitorID, pm.MessageID)))
}

func TestReactions_Mirrored(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	pm := e.visitorSays("ping")
	fwd := e.ownerSays(topicID, "ping")
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: fwd.MessageID, PrivateMessageID: pm.MessageID})

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 6, MessageReaction: &telegram.MessageReactionUpdated{
		Chat:        telegram.Chat{ID: visitorID, Type: telegram.ChatPrivate},
		MessageID:   pm.MessageID,
		User:        &telegram.User{ID: visitorID},
		NewReaction: []telegram.ReactionType{telegram.Emoji("👍")},
	}}))
	assert.Equal(t, []string{"👍"}, emojis(e.srv.Reactions(groupID, fwd.MessageID)))

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 7, MessageReaction: &telegram.MessageReactionUpdated{
		Chat:      telegram.Chat{ID: groupID, Type: telegram.ChatSupergroup},
		MessageID: fwd.MessageID,
		User:      owner,
	}}))
	assert.Equal(t, []string{emojiDelivered}, emojis(e.srv.Reactions(visitorID, pm.MessageID)), "a cleared reaction restores the delivery mark")
}

func TestReactions_TooManyFallsBackToLast(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())
	pm := e.visitorSays("ping")
	fwd := e.ownerSays(topicID, "ping")
	e.seedLinks(t, correlation.Link{TopicID: topicID, TopicMessageID: fwd.MessageID, PrivateMessageID: pm.MessageID})

	err := e.svc.ReactionFromVisitor(e.ctx, &telegram.MessageReactionUpdated{
		Chat:        telegram.Chat{ID: visitorID, Type: telegram.ChatPrivate},
		MessageID:   pm.MessageID,
		User:        &telegram.User{ID: visitorID},
		NewReaction: []telegram.ReactionType{telegram.Emoji("👍"), telegram.Emoji("🔥")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"🔥"}, emojis(e.srv.Reactions(groupID, fwd.MessageID)))
}

func TestBan_Commands(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 8, Message: e.ownerSays(topicID, help.CmdBan)}))
	assert.True(t, e.directory(t).IsBanned(topicID))
	assert.Equal(t, []string{help.BanSuccess}, e.texts(groupID, topicID))
	assert.Equal(t, []string{help.VisitorBanned}, e.texts(visitorID))

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 9, Message: e.ownerSays(topicID, help.CmdBan)}))
	assert.Equal(t, []string{help.BanSuccess, help.AlreadyBanned}, e.texts(groupID, topicID))

	_, err := e.svc.ProcessInbound(e.ctx, e.visitorSays("hello?"))
	assert.ErrorIs(t, err, ErrRejected)

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 10, Message: e.ownerSays(topicID, help.CmdSilentUnban)}))
	assert.False(t, e.directory(t).IsBanned(topicID))
	assert.Equal(t, []string{help.VisitorBanned}, e.texts(visitorID), "silent unban does not tell the visitor")

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 11, Message: e.ownerSays(topicID, help.CmdUnban)}))
	assert.Equal(t, help.NotBanned, e.texts(groupID, topicID)[3])
}

func TestRenameTopic_SavesLabel(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())

	m := e.ownerSays(topicID, "")
	m.ForumTopicEdited = &telegram.ForumTopicEdited{Name: "VIP: client | Ann (555)"}
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 12, Message: m}))

	entry, _ := e.directory(t).ByTopic(topicID)
	assert.Equal(t, "VIP client", entry.Label)
}

func TestRenameTopic_NameWithoutBarClearsLabel(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())

	m := e.ownerSays(topicID, "")
	m.ForumTopicEdited = &telegram.ForumTopicEdited{Name: "VIP | Ann (555)"}
	require.NoError(t, e.svc.RenameTopic(e.ctx, m))
	entry, _ := e.directory(t).ByTopic(topicID)
	require.Equal(t, "VIP", entry.Label)

	m.ForumTopicEdited = &telegram.ForumTopicEdited{Name: "Ann (555)"}
	require.NoError(t, e.svc.RenameTopic(e.ctx, m))
	entry, _ = e.directory(t).ByTopic(topicID)
	assert.Empty(t, entry.Label)

	// the next visitor message renames the topic without the old label
	_, err := e.svc.ProcessInbound(e.ctx, e.visitorSays("hi"))
	require.NoError(t, err)
	name := e.srv.Topics(groupID)[topicID]
	assert.NotContains(t, name, "VIP")
	assert.NotContains(t, name, "|")
}

func TestSetupCommands(t *testing.T) {
	e := newEnv(t)
	const otherGroup = -100999

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 13, Message: e.ownerSays(0, help.CmdInit)}))
	assert.Equal(t, int64(groupID), e.directory(t).SuperGroupID)

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 14, Message: e.ownerSays(0, help.CmdInit)}))

	other := e.srv.AddMessage(telegram.Message{
		Chat: telegram.Chat{ID: otherGroup, Type: telegram.ChatSupergroup},
		From: owner,
		Text: help.CmdCheckInit,
	})
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 15, Message: &other}))

	other.Text = help.CmdReset
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 16, Message: &other}))

	private := e.srv.AddMessage(telegram.Message{
		Chat: telegram.Chat{ID: ownerUID, Type: telegram.ChatPrivate},
		From: owner,
		Text: help.CmdReset,
	})
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 17, Message: &private}))
	_, err := e.docs.Load(e.ctx, store.DirectoryKey(botID, ownerUID))
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 18, Message: &private}))

	assert.Equal(t, []string{
		"GROUP -100123: init success!",
		help.AlreadyInit,
		"GROUP -100999: init failed! Cause already init GROUP -100123",
		help.ResetWrongChat,
		help.ResetSuccess,
		help.NotInit,
	}, e.texts(ownerUID))
}

func TestCheckInit_NotInitialized(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.CheckInit(e.ctx, e.ownerSays(0, help.CmdCheckInit)))
	assert.Equal(t, []string{"GROUP -100123: init check failed, please do init or try again"}, e.texts(ownerUID))
}

func TestHandleUpdate_IgnoresStrangers(t *testing.T) {
	e := newEnv(t)
	e.seedVisitor(t, directory.VerifiedStatus())

	m := e.srv.AddMessage(telegram.Message{
		Chat:            telegram.Chat{ID: groupID, Type: telegram.ChatSupergroup},
		From:            &telegram.User{ID: 31337},
		MessageThreadID: topicID,
		IsTopicMessage:  true,
		Text:            "not the owner",
	})
	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 19, Message: &m}))
	assert.Empty(t, e.srv.Calls("copyMessage"))

	require.NoError(t, e.handle(t, &telegram.Update{UpdateID: 20}))
}
