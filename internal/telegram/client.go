// Package telegram is a thin binding over the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const defaultFloodRetries = 2

// Client calls one bot's Bot API methods.
type Client struct {
	http         *resty.Client
	token        string
	log          zerolog.Logger
	floodRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for flood-wait retries.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithFloodRetries bounds how often a 429 response is retried after its retry_after delay.
func WithFloodRetries(n uint64) Option { return func(c *Client) { c.floodRetries = n } }

// New creates a client for token against baseURL (https://api.telegram.org in production).
func New(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	c := &Client{http: h, token: token, log: zerolog.Nop(), floodRetries: defaultFloodRetries}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns the bot token.
func (c *Client) Token() string { return c.token }

// BotID returns the numeric id prefix of the bot token.
func (c *Client) BotID() int64 { return BotIDFromToken(c.token) }

// BotIDFromToken parses the "<id>:<secret>" token format. It returns 0 when the prefix is not numeric.
func BotIDFromToken(token string) int64 {
	id, _, _ := strings.Cut(token, ":")
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// floodWait backs off for the delay the server asked for.
type floodWait struct{ next time.Duration }

func (f *floodWait) NextBackOff() time.Duration { return f.next }
func (f *floodWait) Reset()                     {}

// Call invokes method with params and decodes the result into out (which may be nil).
// An ok=false response is returned as *APIError. Only 429 responses are retried.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	wait := &floodWait{}
	var env envelope

	op := func() error {
		req := c.http.R().SetContext(ctx)
		if params != nil {
			req.SetBody(params)
		}
		resp, err := req.Post("/bot" + c.token + "/" + method)
		if err != nil {
			return backoff.Permanent(newTransportError(method, c.token, err))
		}

		env = envelope{}
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return backoff.Permanent(fmt.Errorf("telegram %s: status %d: decode response: %w", method, resp.StatusCode(), err))
		}
		if env.OK {
			return nil
		}

		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		if apiErr.Code == http.StatusTooManyRequests {
			wait.next = time.Duration(apiErr.RetryAfter) * time.Second
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	notify := func(err error, d time.Duration) {
		c.log.Warn().Str("method", method).Dur("retry_after", d).Err(err).Msg("Telegram flood wait")
	}
	b := backoff.WithContext(backoff.WithMaxRetries(wait, c.floodRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}
