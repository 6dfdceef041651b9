package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/api/respond"
	"github.com/pmrelay/pmrelay/internal/dispatch"
	"github.com/pmrelay/pmrelay/internal/telegram"
)

// SecretHeader is the header Telegram echoes the webhook secret in.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxBody bounds a decoded update.
const maxBody = 1 << 20

// UpdateHandler handles the updates of one bot.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u *telegram.Update) error
}

// Bots resolves the handler for the bot a webhook URL names.
type Bots interface {
	Lookup(token string, ownerUID int64) (UpdateHandler, error)
}

// ErrUnknownBot is returned by Bots for a token the relay does not serve.
var ErrUnknownBot = errors.New("unknown bot")

// Submitter queues a job under an ordering key.
type Submitter interface {
	Submit(ctx context.Context, key string, job dispatch.Job) error
}

// WebhookHandler accepts Telegram updates and hands them to the dispatcher.
type WebhookHandler struct {
	bots       Bots
	dispatcher Submitter
	secret     string
	jobTimeout time.Duration
}

// NewWebhookHandler builds the handler. An empty secret disables the header check.
func NewWebhookHandler(bots Bots, dispatcher Submitter, secret string, jobTimeout time.Duration) *WebhookHandler {
	if jobTimeout <= 0 {
		jobTimeout = time.Minute
	}
	return &WebhookHandler{bots: bots, dispatcher: dispatcher, secret: secret, jobTimeout: jobTimeout}
}

// HandleUpdate handles POST /{prefix}/{ownerUid}/{botToken}.
func (h *WebhookHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	if h.secret != "" && r.Header.Get(SecretHeader) != h.secret {
		log.Warn().Msg("Webhook secret mismatch")
		respond.WriteUnauthorized(w, "bad secret token")
		return
	}

	vars := mux.Vars(r)
	token := vars["botToken"]
	ownerUID, err := strconv.ParseInt(vars["ownerUid"], 10, 64)
	if err != nil {
		respond.WriteBadRequest(w, "ownerUid must be numeric")
		return
	}
	botID := telegram.BotIDFromToken(token)
	if botID == 0 {
		respond.WriteBadRequest(w, "malformed bot token")
		return
	}
	handler, err := h.bots.Lookup(token, ownerUID)
	if errors.Is(err, ErrUnknownBot) {
		respond.WriteUnauthorized(w, "unknown bot")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("bot_id", botID).Msg("Bot lookup failed")
		respond.WriteUnavailable(w, "bot unavailable")
		return
	}

	var u telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&u); err != nil {
		respond.WriteBadRequest(w, "invalid update body")
		return
	}

	l := log.With().Int64("bot_id", botID).Int64("chat_id", u.ChatID()).Int64("update_id", u.UpdateID).Logger()
	// the job outlives the request
	jobCtx := l.WithContext(context.WithoutCancel(r.Context()))
	job := dispatch.JobFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, h.jobTimeout)
		defer cancel()
		return dispatch.Permanent(handler.HandleUpdate(ctx, &u))
	})

	err = h.dispatcher.Submit(jobCtx, dispatch.BotKey(botID), job)
	switch {
	case err == nil:
		respond.WriteOK(w)
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrExecutorClosed):
		l.Warn().Err(err).Msg("Update rejected")
		respond.WriteUnavailable(w, "relay is busy")
	default:
		l.Error().Err(err).Msg("Update submit failed")
		respond.WriteUnavailable(w, "relay is unavailable")
	}
}
