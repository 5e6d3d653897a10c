// Package extract tokenizes chat text into candidate identifiers.
//
// An identifier is a vehicle model code, a train/car number or an aircraft
// registration picked out of free-form text: tokens starting with an
// uppercase letter, bare runs of 4-8 digits, or alphanumeric tokens ending
// in an uppercase letter. Matches are non-overlapping and must sit on word
// boundaries so partial tokens are never extracted.
package extract

import (
	"regexp"
	"strings"
)

var identifierRe = regexp.MustCompile(`\b([A-Z][-\w]+|\d{4,8}|\w+[-A-Z]\w*)\b`)

// Identifiers is an ordered mapping of normalized identifier to the surface
// text it was first seen as. Two spellings that normalize to the same key
// (hyphenated vs not) collapse to one entry keeping the first spelling.
type Identifiers struct {
	keys    []string
	surface map[string]string
}

// Match scans the text left to right and returns all identifiers in
// first-seen order. Hyphens are stripped from the normalized key; the
// original spelling is retained for display.
func Match(text string) *Identifiers {
	ids := &Identifiers{surface: make(map[string]string)}
	for _, m := range identifierRe.FindAllString(text, -1) {
		key := strings.ReplaceAll(m, "-", "")
		if _, seen := ids.surface[key]; seen {
			continue
		}
		ids.keys = append(ids.keys, key)
		ids.surface[key] = m
	}
	return ids
}

// Keys returns the normalized identifiers in first-seen order.
func (ids *Identifiers) Keys() []string {
	return ids.keys
}

// Surface returns the original spelling of a normalized identifier.
func (ids *Identifiers) Surface(key string) string {
	return ids.surface[key]
}

// Surfaces returns the original spellings in first-seen order.
func (ids *Identifiers) Surfaces() []string {
	out := make([]string, len(ids.keys))
	for i, k := range ids.keys {
		out[i] = ids.surface[k]
	}
	return out
}

// Len returns the number of distinct identifiers.
func (ids *Identifiers) Len() int {
	return len(ids.keys)
}

// Contains reports whether the normalized key was extracted.
func (ids *Identifiers) Contains(key string) bool {
	_, ok := ids.surface[key]
	return ok
}

// IsWholeMessage reports whether the message text is literally one of the
// extracted identifiers, i.e. the message carries nothing but the token.
func (ids *Identifiers) IsWholeMessage(message string) bool {
	for _, k := range ids.keys {
		if ids.surface[k] == message {
			return true
		}
	}
	return false
}
