package zpl

import (
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Block is one ^XA...^XZ label definition taken from the uploaded text.
type Block struct {
	Index    int    `json:"index"` // 1-based position in the source text
	Text     string `json:"-"`
	Quantity int    `json:"quantity"`
}

var blockPattern = regexp.MustCompile(`(?is)\^XA.*?\^XZ`)

// Decode turns uploaded bytes into text. A leading BOM is dropped and invalid
// UTF-8 sequences are replaced with U+FFFD; decoding never fails.
func Decode(raw []byte) string {
	decoded, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(decoded)
}

// SplitBlocks extracts every non-overlapping ^XA...^XZ block in order of
// appearance. Markers match case-insensitively and blocks may span lines.
func SplitBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	matches := blockPattern.FindAllString(text, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		if b := strings.TrimSpace(m); b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// Parse splits text into blocks and derives each block's copy count.
func Parse(text string) []Block {
	raw := SplitBlocks(text)
	blocks := make([]Block, 0, len(raw))
	for i, b := range raw {
		blocks = append(blocks, Block{Index: i + 1, Text: b, Quantity: ParseQuantity(b)})
	}
	return blocks
}

// TotalQuantity sums the copy counts of blocks.
func TotalQuantity(blocks []Block) int {
	total := 0
	for _, b := range blocks {
		total += b.Quantity
	}
	return total
}
