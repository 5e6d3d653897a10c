// Package category infers the category of a train number from configured
// numeric range rules.
package category

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var trainNoRe = regexp.MustCompile(`^([A-Z]*|00)([0-9]+)$`)

// Range is a single category rule: a letter prefix plus an inclusive
// numeric interval. Ranges are not disjoint; a train number may fall into
// several ranges and every matching label contributes to the description.
type Range struct {
	Prefix   string
	First    int
	Last     int
	Category string
	// Override labels are written with a leading @ in the rule file and
	// are prepended to the description instead of appended.
	Override bool
}

// Contains reports whether the train number falls into this range.
func (r Range) Contains(train string) bool {
	prefix, number, ok := split(train)
	if !ok {
		return false
	}
	return prefix == r.Prefix && number >= r.First && number <= r.Last
}

func (r Range) String() string {
	return fmt.Sprintf("Range(%q, %d-%d, %q)", r.Prefix, r.First, r.Last, r.Category)
}

// split separates a train number into its letter prefix and numeric part.
// The pseudo-prefix "00" (locomotive-hauled freight numbering) is treated
// like a letter prefix.
func split(train string) (prefix string, number int, ok bool) {
	m := trainNoRe.FindStringSubmatch(train)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// ParseRanges parses range rules, one category per line:
//
//	高速动车组旅客列车 G1-G5998 G6001-G9998
//	@直通 1-998 X101-X198
//
// Each whitespace-separated pair yields one Range carrying the line's
// category label.
func ParseRanges(lines []string) ([]Range, error) {
	var out []Range
	for _, line := range lines {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		label := fields[0]
		override := strings.HasPrefix(label, "@")
		if override {
			label = label[1:]
		}
		for _, pair := range fields[1:] {
			first, last, found := strings.Cut(pair, "-")
			if !found {
				return nil, fmt.Errorf("malformed range pair %q", pair)
			}
			prefix, lo, ok := split(first)
			if !ok {
				return nil, fmt.Errorf("malformed range bound %q", first)
			}
			_, hi, ok := split(last)
			if !ok {
				return nil, fmt.Errorf("malformed range bound %q", last)
			}
			out = append(out, Range{
				Prefix:   prefix,
				First:    lo,
				Last:     hi,
				Category: label,
				Override: override,
			})
		}
	}
	return out, nil
}

// Classifier describes train numbers against a rule set.
type Classifier struct {
	ranges []Range
}

// NewClassifier creates a classifier over the given ranges.
func NewClassifier(ranges []Range) *Classifier {
	return &Classifier{ranges: ranges}
}

// Describe returns a description template for the train number, with a %s
// slot for the number itself, and whether any range matched. All matching
// ranges contribute: override labels are prepended in front of the number,
// the rest are appended after it. With no match the template degrades to
// the generic " %s 次列车".
func (c *Classifier) Describe(train string) (string, bool) {
	parts := []string{" %s 次"}
	for _, r := range c.ranges {
		if !r.Contains(train) {
			continue
		}
		if r.Override {
			parts = append([]string{r.Category}, parts...)
		} else {
			parts = append(parts, r.Category)
		}
	}
	found := len(parts) > 1
	if !found {
		parts = append(parts, "列车")
	}
	return strings.Join(parts, ""), found
}

var (
	freightBodyRe = regexp.MustCompile(`[1-9][0-9]{4,}`)
	freightHeadRe = regexp.MustCompile(`^X[0-9]{3,4}`)
)

// NormalizeFreightTrainNumber strips prefixes and suffixes from a freight
// train number as reported by the tracking service: either a bare numeric
// train number of five or more digits, or an X-prefixed express number.
// Returns "" when no freight train number is recognizable.
func NormalizeFreightTrainNumber(train string) string {
	if loc := freightHeadRe.FindStringIndex(train); loc != nil {
		if loc[1] >= len(train) || !isDigit(train[loc[1]]) {
			return train[:loc[1]]
		}
	}
	for _, loc := range freightBodyRe.FindAllStringIndex(train, -1) {
		if loc[0] > 0 && isDigit(train[loc[0]-1]) {
			continue
		}
		return train[loc[0]:loc[1]]
	}
	return ""
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
