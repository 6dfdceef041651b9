package verification

import (
	"regexp"
	"strings"
)

// Action tells the relay what a message did to the visitor's verification.
type Action int

const (
	// ActionPass: verified or banned visitors are not challenged.
	ActionPass Action = iota
	// ActionChallenge: a fresh challenge was issued.
	ActionChallenge
	// ActionAutoBan: the visitor was banned on a day boundary; the message is dropped.
	ActionAutoBan
	// ActionVerified: the reply matched.
	ActionVerified
	// ActionBanned: a wrong reply crossed the failed-day threshold.
	ActionBanned
	// ActionExhausted: a wrong reply used the last attempt of the day.
	ActionExhausted
	// ActionRetry: a wrong reply with attempts left; a new challenge was issued.
	ActionRetry
	// ActionRemind: a non-numeric message while attempts remain.
	ActionRemind
	// ActionSilent: a non-numeric message after the day's attempts are used up.
	ActionSilent
)

var actionNames = [...]string{
	ActionPass:      "pass",
	ActionChallenge: "challenge",
	ActionAutoBan:   "auto_ban",
	ActionVerified:  "verified",
	ActionBanned:    "banned",
	ActionExhausted: "exhausted",
	ActionRetry:     "retry",
	ActionRemind:    "remind",
	ActionSilent:    "silent",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Decision is the outcome of one visitor message.
type Decision struct {
	Action Action
	Prev   State
	Next   State
	// Changed is true when Next must be persisted before anything is sent.
	Changed bool
	// Challenge is set for ActionChallenge and ActionRetry.
	Challenge Challenge
	// Forward is false only when the message must not reach the operator.
	Forward bool
}

var numericReply = regexp.MustCompile(`^\d+$`)

// Step runs one visitor message through the machine.
func (m *Machine) Step(prev State, text string, newTopic bool) Decision {
	d := Decision{Prev: prev, Next: prev, Forward: true}
	if !prev.Pending() {
		d.Action = ActionPass
		return d
	}

	if prev.Answer == 0 || newTopic || m.IsNewDay(prev.LastDate) {
		init := m.Initialize(prev)
		d.Next, d.Changed = init.Next, true
		if init.AutoBanned {
			d.Action, d.Forward = ActionAutoBan, false
			return d
		}
		d.Action, d.Challenge = ActionChallenge, init.Challenge
		return d
	}

	reply := strings.TrimSpace(text)
	if !numericReply.MatchString(reply) {
		if prev.Attempts >= MaxAttempts {
			d.Action = ActionSilent
		} else {
			d.Action = ActionRemind
		}
		return d
	}

	res := m.VerifyAnswer(prev, reply)
	d.Next, d.Changed = res.Next, true
	switch {
	case res.Correct:
		d.Action = ActionVerified
	case res.ShouldBan:
		d.Action = ActionBanned
	case res.AttemptsExhausted:
		d.Action = ActionExhausted
	default:
		d.Action, d.Challenge = ActionRetry, res.Challenge
	}
	return d
}
