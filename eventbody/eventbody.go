// Package eventbody encodes the structured metadata block embedded in a
// calendar event's text body.
//
// The format is line oriented: a scalar renders as "key: value", a list as
// "key:" followed by "  - item" lines. It is only as permissive as the
// bodies this system writes: ASCII scalars without embedded colons or
// newlines, and lists of such scalars.
package eventbody

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Well-known keys written by the reconciliation engine. Bodies may carry
// additional keys (for example participants added by hand); those survive
// parse, merge, and format untouched.
const (
	KeyOriginalTitle = "original_title"
	KeyReferences    = "references"
	KeyVideoID       = "youtube_id"
	KeyParticipants  = "participants"
)

// Sentinel errors for body parsing.
var (
	// ErrMalformed indicates the body text does not follow the block format.
	ErrMalformed = errors.New("eventbody: malformed body")
	// ErrTypeMismatch indicates merge inputs disagree on a key's shape.
	ErrTypeMismatch = errors.New("eventbody: type mismatch")
)

// Value is either a scalar string or a list of strings.
type Value struct {
	Scalar string
	List   []string
	IsList bool
}

// String returns a scalar value.
func String(s string) Value {
	return Value{Scalar: s}
}

// Strings returns a list value.
func Strings(items ...string) Value {
	return Value{List: items, IsList: true}
}

// Equal reports whether two values have the same shape and content.
func (v Value) Equal(other Value) bool {
	if v.IsList != other.IsList {
		return false
	}
	if !v.IsList {
		return v.Scalar == other.Scalar
	}
	if len(v.List) != len(other.List) {
		return false
	}
	for i := range v.List {
		if v.List[i] != other.List[i] {
			return false
		}
	}
	return true
}

// Document is a flat mapping of keys to scalar-or-list values.
type Document map[string]Value

// New builds the document the engine writes for a video: the unfiltered
// title, a single watch URL reference, and the stable video id.
func New(originalTitle, watchURL, videoID string) Document {
	return Document{
		KeyOriginalTitle: String(originalTitle),
		KeyReferences:    Strings(watchURL),
		KeyVideoID:       String(videoID),
	}
}

// Parse decodes a structured body block. It is the strict inverse of
// Format: a line not starting with two spaces opens a new key, indented
// "  - item" lines sequence into the most recently opened list.
func Parse(text string) (Document, error) {
	doc := Document{}

	var openList string
	haveOpenList := false

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if strings.HasPrefix(line, "  ") {
			item, ok := strings.CutPrefix(strings.TrimSpace(line), "- ")
			if !ok {
				return nil, fmt.Errorf("%w: line %d: indented line is not a list item", ErrMalformed, i+1)
			}
			if !haveOpenList {
				return nil, fmt.Errorf("%w: line %d: list item without a list key", ErrMalformed, i+1)
			}
			v := doc[openList]
			v.List = append(v.List, item)
			doc[openList] = v
			continue
		}

		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: missing colon", ErrMalformed, i+1)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: line %d: empty key", ErrMalformed, i+1)
		}

		rest = strings.TrimSpace(rest)
		if rest == "" {
			doc[key] = Strings()
			openList = key
			haveOpenList = true
		} else {
			doc[key] = String(rest)
			haveOpenList = false
		}
	}

	return doc, nil
}

// Format encodes a document. Keys are emitted in sorted order so that
// formatting is deterministic and unchanged documents compare equal as text.
func Format(doc Document) string {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		v := doc[key]
		if v.IsList {
			b.WriteString(key)
			b.WriteString(":\n")
			for _, item := range v.List {
				b.WriteString("  - ")
				b.WriteString(item)
				b.WriteString("\n")
			}
		} else {
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(v.Scalar)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// OriginalTitle returns the unfiltered video title, if present.
func (d Document) OriginalTitle() string {
	return d.scalar(KeyOriginalTitle)
}

// VideoID returns the stable video id, if present.
func (d Document) VideoID() string {
	return d.scalar(KeyVideoID)
}

// References returns the reference URL list, if present.
func (d Document) References() []string {
	return d.list(KeyReferences)
}

// Participants returns the participant display names, if present.
func (d Document) Participants() []string {
	return d.list(KeyParticipants)
}

// WatchURL returns the first YouTube watch URL among the references,
// or "" if there is none.
func (d Document) WatchURL() string {
	for _, ref := range d.References() {
		if isWatchURL(ref) {
			return ref
		}
	}
	return ""
}

func (d Document) scalar(key string) string {
	v, ok := d[key]
	if !ok || v.IsList {
		return ""
	}
	return v.Scalar
}

func (d Document) list(key string) []string {
	v, ok := d[key]
	if !ok || !v.IsList {
		return nil
	}
	return v.List
}

func isWatchURL(ref string) bool {
	return strings.Contains(ref, "youtube.com/watch")
}
