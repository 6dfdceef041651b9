// Package directory encodes the per-operator visitor directory.
//
// The persisted form is a single line of text:
//
//	<superGroupId>;<topicId>:<statusToken>[:<label>];...
//
// where statusToken is <visitorId> (verified), b<visitorId> (banned) or
// v<answer>_<attempts>_<lastDate>_<failedDays>_<visitorId> (unverified).
// Callers parse the whole document, mutate the structured entries and write
// the serialized result back in one piece.
package directory

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// MaxLen is the platform message ceiling the serialized document must fit in, in UTF-16 units.
const MaxLen = 4096

// MaxLabelLen bounds a stored label, in runes.
const MaxLabelLen = 64

// ErrDirectoryFull is returned when a mutation would push the document past MaxLen.
var ErrDirectoryFull = errors.New("directory document exceeds the message length limit")

// Kind tags a status token.
type Kind int

const (
	Unverified Kind = iota
	Verified
	Banned
)

func (k Kind) String() string {
	switch k {
	case Verified:
		return "verified"
	case Banned:
		return "banned"
	default:
		return "unverified"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "verified":
		*k = Verified
	case "banned":
		*k = Banned
	case "unverified":
		*k = Unverified
	default:
		return fmt.Errorf("unknown status kind %q", b)
	}
	return nil
}

// Challenge is the sub-state carried only by unverified entries.
// Answer 0 means the visitor has never been challenged.
type Challenge struct {
	Answer     int    `json:"answer" yaml:"answer"`
	Attempts   int    `json:"attempts" yaml:"attempts"`
	LastDate   string `json:"last_date,omitempty" yaml:"last_date,omitempty"`
	FailedDays int    `json:"failed_days" yaml:"failed_days"`
}

// Status is the tagged union stored in each entry.
type Status struct {
	Kind      Kind      `json:"kind" yaml:"kind"`
	Challenge Challenge `json:"challenge,omitempty" yaml:"challenge,omitempty"`
}

// NewVisitorStatus is the status given to a visitor on first contact (v0_0_0_0).
func NewVisitorStatus() Status { return Status{Kind: Unverified} }

// VerifiedStatus returns a verified status with no challenge sub-state.
func VerifiedStatus() Status { return Status{Kind: Verified} }

// BannedStatus returns a banned status with no challenge sub-state.
func BannedStatus() Status { return Status{Kind: Banned} }

// Entry maps one forum topic to one visitor.
type Entry struct {
	TopicID   int64  `json:"topic_id" yaml:"topic_id"`
	VisitorID int64  `json:"visitor_id" yaml:"visitor_id"`
	Status    Status `json:"status" yaml:"status"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Directory is the decoded document.
type Directory struct {
	SuperGroupID int64   `json:"super_group_id" yaml:"super_group_id"`
	Entries      []Entry `json:"entries" yaml:"entries"`
}

// MalformedHeaderError reports a document whose first token is not a group id.
type MalformedHeaderError struct {
	Header string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("directory header %q is not a group id", e.Header)
}

// IsMalformedHeader reports whether err is a *MalformedHeaderError.
func IsMalformedHeader(err error) bool {
	var target *MalformedHeaderError
	return errors.As(err, &target)
}

// New returns an empty directory bound to superGroupID.
func New(superGroupID int64) *Directory {
	return &Directory{SuperGroupID: superGroupID}
}

// Parse decodes text. Entries that cannot be decoded are skipped; only a bad
// header is an error. Duplicate topic or visitor ids resolve to the last one seen.
func Parse(text string) (*Directory, error) {
	parts := strings.Split(strings.TrimSpace(text), ";")
	header := strings.TrimSpace(parts[0])
	groupID, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return nil, &MalformedHeaderError{Header: header}
	}

	d := New(groupID)
	for _, raw := range parts[1:] {
		e, ok := parseEntry(raw)
		if !ok {
			continue
		}
		d.removeWhere(func(o Entry) bool { return o.TopicID == e.TopicID || o.VisitorID == e.VisitorID })
		d.Entries = append(d.Entries, e)
	}
	return d, nil
}

func parseEntry(raw string) (Entry, bool) {
	fields := strings.Split(raw, ":")
	if len(fields) < 2 {
		return Entry{}, false
	}
	topicID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || topicID == 0 {
		return Entry{}, false
	}
	visitorID, status, ok := parseStatusToken(fields[1])
	if !ok {
		return Entry{}, false
	}
	e := Entry{TopicID: topicID, VisitorID: visitorID, Status: status}
	if len(fields) > 2 {
		e.Label = fields[2]
	}
	return e, true
}

func parseStatusToken(tok string) (int64, Status, bool) {
	switch {
	case strings.HasPrefix(tok, "b"):
		id, err := strconv.ParseInt(tok[1:], 10, 64)
		if err != nil {
			return 0, Status{}, false
		}
		return id, BannedStatus(), true

	case strings.HasPrefix(tok, "v"):
		f := strings.Split(tok[1:], "_")
		if len(f) != 5 {
			return 0, Status{}, false
		}
		answer, err1 := strconv.Atoi(f[0])
		attempts, err2 := strconv.Atoi(f[1])
		failed, err3 := strconv.Atoi(f[3])
		id, err4 := strconv.ParseInt(f[4], 10, 64)
		if err := errors.Join(err1, err2, err3, err4); err != nil || !isDigits(f[2]) {
			return 0, Status{}, false
		}
		date := f[2]
		if date == "0" {
			date = ""
		}
		return id, Status{Kind: Unverified, Challenge: Challenge{
			Answer:     answer,
			Attempts:   attempts,
			LastDate:   date,
			FailedDays: failed,
		}}, true

	default:
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return 0, Status{}, false
		}
		return id, VerifiedStatus(), true
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String encodes the directory in its persisted form.
func (d *Directory) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(d.SuperGroupID, 10))
	for _, e := range d.Entries {
		b.WriteByte(';')
		b.WriteString(e.String())
	}
	return b.String()
}

// String encodes a single entry.
func (e Entry) String() string {
	s := strconv.FormatInt(e.TopicID, 10) + ":" + StatusToken(e.VisitorID, e.Status)
	if e.Label != "" {
		s += ":" + e.Label
	}
	return s
}

// StatusToken renders the status token for visitorID.
func StatusToken(visitorID int64, s Status) string {
	id := strconv.FormatInt(visitorID, 10)
	switch s.Kind {
	case Banned:
		return "b" + id
	case Verified:
		return id
	}
	c := s.Challenge
	date := c.LastDate
	if date == "" {
		date = "0"
	}
	return fmt.Sprintf("v%d_%d_%s_%d_%s", c.Answer, c.Attempts, date, c.FailedDays, id)
}

// Len measures s the way the platform does, in UTF-16 code units.
func Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Fits reports whether the encoded document is within MaxLen.
func (d *Directory) Fits() bool { return Len(d.String()) <= MaxLen }

// ByVisitor returns the entry for visitorID.
func (d *Directory) ByVisitor(visitorID int64) (Entry, bool) {
	for _, e := range d.Entries {
		if e.VisitorID == visitorID {
			return e, true
		}
	}
	return Entry{}, false
}

// ByTopic returns the entry for topicID.
func (d *Directory) ByTopic(topicID int64) (Entry, bool) {
	if i := d.indexOfTopic(topicID); i >= 0 {
		return d.Entries[i], true
	}
	return Entry{}, false
}

// UpsertVisitor maps topicID to visitorID with the given status and label.
// Any other entry for the same visitor is dropped so a visitor appears once.
func (d *Directory) UpsertVisitor(topicID, visitorID int64, status Status, label string) {
	d.removeWhere(func(e Entry) bool { return e.VisitorID == visitorID && e.TopicID != topicID })
	e := Entry{TopicID: topicID, VisitorID: visitorID, Status: status, Label: SanitizeLabel(label)}
	if i := d.indexOfTopic(topicID); i >= 0 {
		d.Entries[i] = e
		return
	}
	d.Entries = append(d.Entries, e)
}

// RemoveEntry drops the entry for topicID and reports whether one existed.
func (d *Directory) RemoveEntry(topicID int64) bool {
	return d.removeWhere(func(e Entry) bool { return e.TopicID == topicID }) > 0
}

// SetStatus replaces the status of the entry mapping topicID to visitorID.
func (d *Directory) SetStatus(topicID, visitorID int64, s Status) bool {
	i := d.indexOfTopic(topicID)
	if i < 0 || d.Entries[i].VisitorID != visitorID {
		return false
	}
	d.Entries[i].Status = s
	return true
}

// SetBan bans or unbans the topic. Banning discards the challenge sub-state and
// unbanning always yields a verified entry. It reports false when the topic is
// unknown or already in the requested state.
func (d *Directory) SetBan(topicID int64, banned bool) bool {
	i := d.indexOfTopic(topicID)
	if i < 0 {
		return false
	}
	e := &d.Entries[i]
	if banned {
		if e.Status.Kind == Banned {
			return false
		}
		e.Status = BannedStatus()
		return true
	}
	if e.Status.Kind != Banned {
		return false
	}
	e.Status = VerifiedStatus()
	return true
}

// IsBanned reports whether the topic is banned at the operator level.
func (d *Directory) IsBanned(topicID int64) bool {
	e, ok := d.ByTopic(topicID)
	return ok && e.Status.Kind == Banned
}

// SetLabel records label for the entry mapping topicID to visitorID.
// It reports false when nothing changed.
func (d *Directory) SetLabel(topicID, visitorID int64, label string) bool {
	i := d.indexOfTopic(topicID)
	if i < 0 || d.Entries[i].VisitorID != visitorID {
		return false
	}
	label = SanitizeLabel(label)
	if d.Entries[i].Label == label {
		return false
	}
	d.Entries[i].Label = label
	return true
}

// SanitizeLabel strips the document delimiters and bounds the length.
func SanitizeLabel(label string) string {
	label = strings.NewReplacer(":", "", ";", "").Replace(label)
	label = strings.TrimSpace(label)
	if r := []rune(label); len(r) > MaxLabelLen {
		label = strings.TrimSpace(string(r[:MaxLabelLen]))
	}
	return label
}

// LabelFromTopicName extracts the operator's label from a renamed topic:
// the text before the first "|", or nothing when there is no "|".
func LabelFromTopicName(name string) string {
	before, _, found := strings.Cut(name, "|")
	if !found {
		return ""
	}
	return SanitizeLabel(before)
}

func (d *Directory) indexOfTopic(topicID int64) int {
	for i, e := range d.Entries {
		if e.TopicID == topicID {
			return i
		}
	}
	return -1
}

func (d *Directory) removeWhere(match func(Entry) bool) int {
	kept := d.Entries[:0]
	removed := 0
	for _, e := range d.Entries {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	d.Entries = kept
	return removed
}
