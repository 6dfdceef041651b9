// Package store defines the document repository behind the relay state.
// Implementations live under internal/store/<driver>/ (pinned, sqlite, postgres, redis, memory).
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pmrelay/pmrelay/internal/directory"
	"github.com/pmrelay/pmrelay/internal/model"
)

// MaxTextLen is the largest document any store accepts, in UTF-16 units.
const MaxTextLen = directory.MaxLen

var (
	// ErrNotFound is returned by Load and Save for a document that was never created or was reset.
	ErrNotFound = model.ErrNotFound
	// ErrTooLarge is returned for text longer than MaxTextLen.
	ErrTooLarge = errors.New("document exceeds the message length limit")
)

// Kind names one of the two documents kept per bot.
type Kind string

const (
	// KindDirectory is the visitor directory, kept in the owner's private chat.
	KindDirectory Kind = "directory"
	// KindCorrelation is the message correlation log, kept in the forum group.
	KindCorrelation Kind = "correlation"
)

// Key addresses one document.
type Key struct {
	// Bot is the numeric bot id, never the token.
	Bot    string
	Kind   Kind
	ChatID int64
}

func (k Key) String() string {
	return k.Bot + ":" + string(k.Kind) + ":" + strconv.FormatInt(k.ChatID, 10)
}

// DirectoryKey is the key of the directory of bot kept in the owner's chat.
func DirectoryKey(botID, ownerUID int64) Key {
	return Key{Bot: strconv.FormatInt(botID, 10), Kind: KindDirectory, ChatID: ownerUID}
}

// CorrelationKey is the key of the correlation log of bot kept in the forum group.
func CorrelationKey(botID, groupID int64) Key {
	return Key{Bot: strconv.FormatInt(botID, 10), Kind: KindCorrelation, ChatID: groupID}
}

// Blob is an opaque versioned document.
type Blob struct {
	Text string
	// Version is the pinned message id, or a per-document counter for database stores.
	Version int64
	// UpdatedAt is when the current version was first written.
	UpdatedAt time.Time
}

// Documents is a repository over versioned text blobs. There is no optimistic
// concurrency check: the last Save wins.
type Documents interface {
	// Load returns the current document or ErrNotFound.
	Load(ctx context.Context, key Key) (*Blob, error)
	// Create writes a fresh document, replacing any existing one.
	Create(ctx context.Context, key Key, text string) (*Blob, error)
	// Save replaces the text of an existing document. prev may be nil, in which
	// case the current document is loaded first.
	Save(ctx context.Context, key Key, prev *Blob, text string) (*Blob, error)
	// Reset forgets the document. Resetting a missing document is not an error.
	Reset(ctx context.Context, key Key) error
}

// Renewer is implemented by stores whose documents age out and must be rewritten.
type Renewer interface {
	// Renew rewrites the document when it is older than maxAge and reports whether it did.
	Renew(ctx context.Context, key Key, maxAge time.Duration) (bool, error)
}

// CheckSize returns ErrTooLarge when text does not fit MaxTextLen.
func CheckSize(text string) error {
	if n := directory.Len(text); n > MaxTextLen {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, n, MaxTextLen)
	}
	return nil
}

// LoadOrCreate loads key, creating it with text when missing.
func LoadOrCreate(ctx context.Context, docs Documents, key Key, text string) (*Blob, bool, error) {
	b, err := docs.Load(ctx, key)
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	b, err = docs.Create(ctx, key, text)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
