package zpl

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	defaultQuantity = 1
	// MaxQuantity is the largest copy count a ^PQ directive can carry.
	MaxQuantity = 99999999
)

var (
	// group 1 is the numeric argument, possibly empty when malformed
	quantityPattern = regexp.MustCompile(`(?i)\^PQ[ \t]*(\d*)`)
	endPattern      = regexp.MustCompile(`(?i)\^XZ`)
	fieldPattern    = regexp.MustCompile(`(?is)\^FD(.*?)\^FS`)
)

// ParseQuantity returns the copy count requested by the first ^PQ directive.
// Missing, malformed, non-positive or out-of-range values count as one copy.
func ParseQuantity(block string) int {
	loc := quantityPattern.FindStringSubmatchIndex(block)
	if loc == nil || loc[2] == loc[3] {
		return defaultQuantity
	}
	n, err := strconv.Atoi(block[loc[2]:loc[3]])
	if err != nil || n < 1 || n > MaxQuantity {
		return defaultQuantity
	}
	return n
}

// SetQuantity rewrites the numeric argument of the first ^PQ directive to n,
// leaving its other parameters alone. Without a directive, ^PQn is inserted
// right before the block's closing ^XZ.
func SetQuantity(block string, n int) string {
	qty := strconv.Itoa(n)
	if loc := quantityPattern.FindStringSubmatchIndex(block); loc != nil {
		return block[:loc[2]] + qty + block[loc[3]:]
	}

	directive := "^PQ" + qty
	ends := endPattern.FindAllStringIndex(block, -1)
	if len(ends) == 0 {
		return block + directive
	}
	at := ends[len(ends)-1][0]
	return block[:at] + directive + block[at:]
}

// Excerpt returns a short human-readable hint of the block's content: the
// first field data when present, otherwise the block text itself.
func Excerpt(block string, maxRunes int) string {
	text := block
	if m := fieldPattern.FindStringSubmatch(block); m != nil && strings.TrimSpace(m[1]) != "" {
		text = m[1]
	}
	text = strings.Join(strings.Fields(text), " ")
	return Truncate(text, maxRunes)
}

// Truncate shortens s to at most maxRunes runes, marking the cut with an ellipsis.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "…"
}
