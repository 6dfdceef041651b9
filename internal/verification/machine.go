// Package verification gates unverified visitors behind a small arithmetic
// challenge. All state lives in the directory entry's status token; the
// machine only computes the next status from the previous one.
package verification

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/pmrelay/pmrelay/internal/directory"
)

const (
	// MaxAttempts is the number of wrong answers allowed per calendar day.
	MaxAttempts = 3
	// BanAfterFailedDays is the number of exhausted days that triggers an automatic ban.
	BanAfterFailedDays = 2

	dateLayout = "20060102"
)

// Clock supplies the current time.
type Clock interface{ Now() time.Time }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Rand draws challenge operands.
type Rand interface{ IntN(n int) int }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Machine evaluates challenge transitions against an injected clock and random source.
type Machine struct {
	clock Clock
	rand  Rand
	loc   *time.Location
}

// Option configures a Machine.
type Option func(*Machine)

func WithClock(c Clock) Option               { return func(m *Machine) { m.clock = c } }
func WithRand(r Rand) Option                 { return func(m *Machine) { m.rand = r } }
func WithLocation(loc *time.Location) Option { return func(m *Machine) { m.loc = loc } }

// NewMachine returns a Machine using wall-clock time in UTC unless overridden.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{clock: systemClock{}, rand: globalRand{}, loc: time.UTC}
	for _, o := range opts {
		o(m)
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	return m
}

// Challenge is a two-operand addition question.
type Challenge struct {
	A, B int
}

func (c Challenge) Answer() int      { return c.A + c.B }
func (c Challenge) Question() string { return fmt.Sprintf("%d + %d = ?", c.A, c.B) }
func (c Challenge) IsZero() bool     { return c.A == 0 && c.B == 0 }

// State is the verification view over a directory status.
type State struct {
	Verified   bool
	Banned     bool
	Answer     int
	Attempts   int
	LastDate   string
	FailedDays int
}

// FromStatus derives the state from a directory status.
func FromStatus(s directory.Status) State {
	switch s.Kind {
	case directory.Verified:
		return State{Verified: true}
	case directory.Banned:
		return State{Banned: true}
	}
	c := s.Challenge
	return State{Answer: c.Answer, Attempts: c.Attempts, LastDate: c.LastDate, FailedDays: c.FailedDays}
}

// Status encodes the state back into a directory status. Banned wins over verified.
func (s State) Status() directory.Status {
	switch {
	case s.Banned:
		return directory.BannedStatus()
	case s.Verified:
		return directory.VerifiedStatus()
	}
	return directory.Status{Kind: directory.Unverified, Challenge: directory.Challenge{
		Answer:     s.Answer,
		Attempts:   s.Attempts,
		LastDate:   s.LastDate,
		FailedDays: s.FailedDays,
	}}
}

// Pending reports whether the visitor still has to answer a challenge.
func (s State) Pending() bool { return !s.Verified && !s.Banned }

// Today is the current calendar day as YYYYMMDD.
func (m *Machine) Today() string { return m.clock.Now().In(m.loc).Format(dateLayout) }

// IsNewDay reports whether last is empty or a different day than today.
func (m *Machine) IsNewDay(last string) bool { return last == "" || last != m.Today() }

// NewChallenge draws both operands uniformly from 1..9.
func (m *Machine) NewChallenge() Challenge {
	return Challenge{A: m.rand.IntN(9) + 1, B: m.rand.IntN(9) + 1}
}

// InitResult is the outcome of issuing a fresh challenge.
type InitResult struct {
	Next       State
	Challenge  Challenge
	AutoBanned bool
}

// Initialize issues a fresh challenge for first contact, a new topic or a new day.
// A new day after an exhausted day counts as a failed day; reaching
// BanAfterFailedDays bans the visitor instead.
func (m *Machine) Initialize(prev State) InitResult {
	c := m.NewChallenge()
	next := State{Answer: c.Answer(), LastDate: m.Today()}

	if m.IsNewDay(prev.LastDate) && prev.Attempts >= MaxAttempts {
		next.FailedDays = prev.FailedDays + 1
		if next.FailedDays >= BanAfterFailedDays {
			next.Banned = true
			return InitResult{Next: next, AutoBanned: true}
		}
	}
	return InitResult{Next: next, Challenge: c}
}

// AnswerResult is the outcome of checking a reply.
type AnswerResult struct {
	Correct           bool
	Next              State
	Challenge         Challenge
	ShouldBan         bool
	ShouldReset       bool
	AttemptsExhausted bool
}

// VerifyAnswer checks reply against the current answer. A reply that is not a
// number counts as wrong.
func (m *Machine) VerifyAnswer(prev State, reply string) AnswerResult {
	n, err := strconv.Atoi(strings.TrimSpace(reply))
	if err == nil && n == prev.Answer {
		return AnswerResult{Correct: true, Next: State{Verified: true}}
	}
	return m.wrongAnswer(prev)
}

func (m *Machine) wrongAnswer(prev State) AnswerResult {
	newDay := m.IsNewDay(prev.LastDate)
	attempts := prev.Attempts + 1
	failedDays := prev.FailedDays
	if newDay {
		if prev.Attempts >= MaxAttempts {
			failedDays++
		}
		attempts = 1
	}

	c := m.NewChallenge()
	ban := failedDays >= BanAfterFailedDays
	return AnswerResult{
		Next: State{
			Banned:     ban,
			Answer:     c.Answer(),
			Attempts:   attempts,
			LastDate:   m.Today(),
			FailedDays: failedDays,
		},
		Challenge:         c,
		ShouldBan:         ban,
		ShouldReset:       newDay && prev.Attempts < MaxAttempts,
		AttemptsExhausted: attempts >= MaxAttempts,
	}
}

// ApplyAnswer checks reply for visitorID against the directory and writes the
// resulting status back into it. It reports false when the visitor is unknown.
func (m *Machine) ApplyAnswer(d *directory.Directory, visitorID int64, reply string) (AnswerResult, bool) {
	e, ok := d.ByVisitor(visitorID)
	if !ok {
		return AnswerResult{}, false
	}
	res := m.VerifyAnswer(FromStatus(e.Status), reply)
	d.SetStatus(e.TopicID, visitorID, res.Next.Status())
	return res, true
}
