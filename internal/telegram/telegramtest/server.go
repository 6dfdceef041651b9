// Package telegramtest runs an in-memory Bot API for tests.
//
// It keeps chats, messages, pins, forum topics and reactions, answers the
// methods the relay calls with the same error descriptions the real API
// uses, and records every call.
package telegramtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/pmrelay/pmrelay/internal/telegram"
)

// Call is one recorded request.
type Call struct {
	Token  string
	Method string
	Params map[string]any
}

// Int returns the numeric parameter key, or 0.
func (c Call) Int(key string) int64 { return toInt(c.Params[key]) }

// Str returns the string parameter key, or "".
func (c Call) Str(key string) string {
	s, _ := c.Params[key].(string)
	return s
}

type msgKey struct{ chat, id int64 }

type failure struct {
	code int
	desc string
}

// Server is a fake Bot API.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	now       func() time.Time
	nextMsg   int64
	nextTopic int64
	messages  map[msgKey]*telegram.Message
	pins      map[int64][]int64
	topics    map[int64]map[int64]string
	reactions map[msgKey][]telegram.ReactionType
	calls     []Call
	failures  map[string][]failure
}

// NewServer starts a server that is closed with t's cleanup.
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		now:       time.Now,
		nextMsg:   1000,
		nextTopic: 100,
		messages:  map[msgKey]*telegram.Message{},
		pins:      map[int64][]int64{},
		topics:    map[int64]map[int64]string{},
		reactions: map[msgKey][]telegram.ReactionType{},
		failures:  map[string][]failure{},
	}
	r := mux.NewRouter()
	r.HandleFunc("/bot{token}/{method}", s.handle).Methods(http.MethodPost)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// SetClock replaces the clock used for message dates.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next call to method fail with code and description.
func (s *Server) FailNext(method string, code int, desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], failure{code: code, desc: desc})
}

// AddMessage stores m as an existing message, assigning an id when m has none.
func (s *Server) AddMessage(m telegram.Message) telegram.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.MessageID == 0 {
		s.nextMsg++
		m.MessageID = s.nextMsg
	}
	if m.Date == 0 {
		m.Date = s.now().Unix()
	}
	cp := m
	s.messages[msgKey{m.Chat.ID, m.MessageID}] = &cp
	return m
}

// AddTopic registers an existing forum topic.
func (s *Server) AddTopic(chatID, threadID int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics[chatID] == nil {
		s.topics[chatID] = map[int64]string{}
	}
	s.topics[chatID][threadID] = name
}

// DeleteTopic removes a topic as if a group admin deleted it.
func (s *Server) DeleteTopic(chatID, threadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics[chatID], threadID)
}

// Topics returns the live topics of chatID by thread id.
func (s *Server) Topics(chatID int64) map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]string{}
	for k, v := range s.topics[chatID] {
		out[k] = v
	}
	return out
}

// Pin pins an existing message.
func (s *Server) Pin(chatID, messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin(chatID, messageID)
}

// Pinned returns the most recently pinned message of chatID, or nil.
func (s *Server) Pinned(chatID int64) *telegram.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned(chatID)
}

// Message returns a stored message, or nil.
func (s *Server) Message(chatID, messageID int64) *telegram.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[msgKey{chatID, messageID}]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Messages returns the stored messages of chatID ordered by id.
func (s *Server) Messages(chatID int64) []telegram.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telegram.Message
	for k, m := range s.messages {
		if k.chat == chatID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

// Reactions returns the reactions the bot set on a message.
func (s *Server) Reactions(chatID, messageID int64) []telegram.ReactionType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telegram.ReactionType(nil), s.reactions[msgKey{chatID, messageID}]...)
}

// Calls returns the recorded calls, filtered to methods when any are given.
func (s *Server) Calls(methods ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(methods) == 0 {
		return append([]Call(nil), s.calls...)
	}
	var out []Call
	for _, c := range s.calls {
		for _, m := range methods {
			if c.Method == m {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// ResetCalls forgets the recorded calls.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

type apiError struct {
	code int
	desc string
}

func badRequest(desc string) *apiError {
	return &apiError{code: http.StatusBadRequest, desc: "Bad Request: " + desc}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	params := map[string]any{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: " + err.Error()})
		return
	}

	s.mu.Lock()
	call := Call{Token: vars["token"], Method: vars["method"], Params: params}
	s.calls = append(s.calls, call)
	var (
		result any
		aerr   *apiError
	)
	if q := s.failures[call.Method]; len(q) > 0 {
		s.failures[call.Method] = q[1:]
		aerr = &apiError{code: q[0].code, desc: q[0].desc}
	} else {
		result, aerr = s.dispatch(call)
	}
	s.mu.Unlock()

	if aerr != nil {
		body := map[string]any{"ok": false, "error_code": aerr.code, "description": aerr.desc}
		if aerr.code == http.StatusTooManyRequests {
			body["parameters"] = map[string]any{"retry_after": 0}
		}
		writeJSON(w, aerr.code, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) dispatch(c Call) (any, *apiError) {
	switch c.Method {
	case "getMe":
		return telegram.User{ID: telegram.BotIDFromToken(c.Token), IsBot: true, FirstName: "Relay", Username: "pmrelay_test_bot"}, nil
	case "getChat":
		chatID := c.Int("chat_id")
		info := telegram.ChatFullInfo{Chat: chatOf(chatID), PinnedMessage: s.pinned(chatID)}
		return info, nil
	case "sendMessage":
		chatID, thread := c.Int("chat_id"), c.Int("message_thread_id")
		if err := s.checkThread(chatID, thread); err != nil {
			return nil, err
		}
		if err := s.checkReply(chatID, c.Params["reply_parameters"]); err != nil {
			return nil, err
		}
		m := s.newMessage(chatID, thread, c.Str("text"))
		m.ReplyToMessage = s.replyTo(chatID, c.Params["reply_parameters"])
		return m, nil
	case "editMessageText":
		m, ok := s.messages[msgKey{c.Int("chat_id"), c.Int("message_id")}]
		if !ok {
			return nil, badRequest("message to edit not found")
		}
		if m.Text == c.Str("text") {
			return nil, badRequest("message is not modified: specified new message content and reply markup are exactly the same as a current content and reply markup of the message")
		}
		m.Text = c.Str("text")
		m.EditDate = s.now().Unix()
		return *m, nil
	case "forwardMessage", "copyMessage":
		chatID, thread := c.Int("chat_id"), c.Int("message_thread_id")
		if err := s.checkThread(chatID, thread); err != nil {
			return nil, err
		}
		if err := s.checkReply(chatID, c.Params["reply_parameters"]); err != nil {
			return nil, err
		}
		text := ""
		if src, ok := s.messages[msgKey{c.Int("from_chat_id"), c.Int("message_id")}]; ok {
			text = src.Text
		}
		m := s.newMessage(chatID, thread, text)
		if c.Method == "copyMessage" {
			return telegram.MessageID{MessageID: m.MessageID}, nil
		}
		return m, nil
	case "deleteMessage":
		k := msgKey{c.Int("chat_id"), c.Int("message_id")}
		if _, ok := s.messages[k]; !ok {
			return nil, badRequest("message to delete not found")
		}
		delete(s.messages, k)
		return true, nil
	case "pinChatMessage":
		chatID, id := c.Int("chat_id"), c.Int("message_id")
		if _, ok := s.messages[msgKey{chatID, id}]; !ok {
			return nil, badRequest("message to pin not found")
		}
		s.pin(chatID, id)
		return true, nil
	case "unpinChatMessage":
		chatID, id := c.Int("chat_id"), c.Int("message_id")
		pins := s.pins[chatID]
		for i, p := range pins {
			if p == id {
				s.pins[chatID] = append(pins[:i:i], pins[i+1:]...)
				return true, nil
			}
		}
		return nil, badRequest("message to unpin not found")
	case "unpinAllChatMessages":
		delete(s.pins, c.Int("chat_id"))
		return true, nil
	case "createForumTopic":
		chatID := c.Int("chat_id")
		if chatID > 0 {
			return nil, badRequest("the chat is not a forum")
		}
		s.nextTopic++
		if s.topics[chatID] == nil {
			s.topics[chatID] = map[int64]string{}
		}
		s.topics[chatID][s.nextTopic] = c.Str("name")
		return telegram.ForumTopic{MessageThreadID: s.nextTopic, Name: c.Str("name")}, nil
	case "editForumTopic":
		chatID, thread := c.Int("chat_id"), c.Int("message_thread_id")
		name, ok := s.topics[chatID][thread]
		if !ok {
			return nil, badRequest(telegram.DescTopicIDInvalid)
		}
		if n := c.Str("name"); n == "" || n == name {
			return nil, badRequest("TOPIC_NOT_MODIFIED")
		}
		s.topics[chatID][thread] = c.Str("name")
		return true, nil
	case "setMessageReaction":
		k := msgKey{c.Int("chat_id"), c.Int("message_id")}
		if _, ok := s.messages[k]; !ok {
			return nil, badRequest("message to react not found")
		}
		raw, _ := json.Marshal(c.Params["reaction"])
		var rs []telegram.ReactionType
		_ = json.Unmarshal(raw, &rs)
		if len(rs) > 1 {
			return nil, badRequest(telegram.DescReactionsTooMany)
		}
		for _, r := range rs {
			if r.Type != "emoji" || r.Emoji == "" {
				return nil, badRequest(telegram.DescReactionInvalid)
			}
		}
		s.reactions[k] = rs
		return true, nil
	case "setWebhook", "deleteWebhook":
		return true, nil
	}
	return nil, &apiError{code: http.StatusNotFound, desc: "Not Found"}
}

func (s *Server) newMessage(chatID, thread int64, text string) telegram.Message {
	s.nextMsg++
	m := telegram.Message{
		MessageID:       s.nextMsg,
		MessageThreadID: thread,
		Chat:            chatOf(chatID),
		Date:            s.now().Unix(),
		Text:            text,
		IsTopicMessage:  thread != 0,
	}
	cp := m
	s.messages[msgKey{chatID, m.MessageID}] = &cp
	return m
}

func (s *Server) checkThread(chatID, thread int64) *apiError {
	if thread == 0 {
		return nil
	}
	if _, ok := s.topics[chatID][thread]; !ok {
		return badRequest(telegram.DescThreadNotFound)
	}
	return nil
}

func (s *Server) checkReply(chatID int64, raw any) *apiError {
	id := replyID(raw)
	if id == 0 {
		return nil
	}
	if _, ok := s.messages[msgKey{chatID, id}]; !ok {
		return badRequest(telegram.DescReplyNotFound)
	}
	return nil
}

func (s *Server) replyTo(chatID int64, raw any) *telegram.Message {
	id := replyID(raw)
	if id == 0 {
		return nil
	}
	if m, ok := s.messages[msgKey{chatID, id}]; ok {
		cp := *m
		return &cp
	}
	return nil
}

func (s *Server) pin(chatID, id int64) {
	pins := s.pins[chatID]
	for i, p := range pins {
		if p == id {
			pins = append(pins[:i:i], pins[i+1:]...)
			break
		}
	}
	s.pins[chatID] = append(pins, id)
}

func (s *Server) pinned(chatID int64) *telegram.Message {
	pins := s.pins[chatID]
	for i := len(pins) - 1; i >= 0; i-- {
		if m, ok := s.messages[msgKey{chatID, pins[i]}]; ok {
			cp := *m
			return &cp
		}
	}
	return nil
}

func replyID(raw any) int64 {
	p, ok := raw.(map[string]any)
	if !ok {
		return 0
	}
	return toInt(p["message_id"])
}

func chatOf(id int64) telegram.Chat {
	if id < 0 {
		return telegram.Chat{ID: id, Type: telegram.ChatSupergroup, Title: "Relay Group", IsForum: true}
	}
	return telegram.Chat{ID: id, Type: telegram.ChatPrivate, FirstName: fmt.Sprintf("user%d", id)}
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	case float64:
		return int64(n)
	case string:
		var i int64
		_, _ = fmt.Sscan(strings.TrimSpace(n), &i)
		return i
	}
	return 0
}
