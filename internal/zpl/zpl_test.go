package zpl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBlocks(t *testing.T) {
	t.Run("Should split on marker pairs regardless of case and newlines", func(t *testing.T) {
		text := "junk\r\n^XA^FO10,10^FDone^FS^XZ\n\n^xa\r^FDtwo^FS\r\n^xz trailing ^XA^FDthree^FS^Xz"
		blocks := SplitBlocks(text)
		require.Len(t, blocks, 3)
		assert.Equal(t, "^XA^FO10,10^FDone^FS^XZ", blocks[0])
		assert.Equal(t, "^xa\n^FDtwo^FS\n^xz", blocks[1])
		assert.Equal(t, "^XA^FDthree^FS^Xz", blocks[2])
	})

	t.Run("Should end each block at the nearest end marker", func(t *testing.T) {
		blocks := SplitBlocks("^XA^FDa^FS^XZ^XZ^XA^FDb^FS^XZ")
		require.Len(t, blocks, 2)
		assert.Equal(t, "^XA^FDa^FS^XZ", blocks[0])
	})

	t.Run("Should return no blocks for text without markers", func(t *testing.T) {
		assert.Empty(t, SplitBlocks("hello\nworld"))
		assert.Empty(t, SplitBlocks(""))
		assert.Empty(t, SplitBlocks("^XA never closed"))
	})
}

func TestParse(t *testing.T) {
	blocks := Parse("^XA^FDa^FS^XZ\n^XA^PQ3^FDb^FS^XZ")
	require.Len(t, blocks, 2)
	assert.Equal(t, Block{Index: 1, Text: "^XA^FDa^FS^XZ", Quantity: 1}, blocks[0])
	assert.Equal(t, 2, blocks[1].Index)
	assert.Equal(t, 3, blocks[1].Quantity)
	assert.Equal(t, 4, TotalQuantity(blocks))
}

func TestDecode(t *testing.T) {
	t.Run("Should replace invalid bytes instead of failing", func(t *testing.T) {
		got := Decode([]byte("^XA^FD\xffok^FS^XZ"))
		assert.Contains(t, got, "�")
		assert.Contains(t, got, "ok^FS^XZ")
	})

	t.Run("Should drop a leading byte order mark", func(t *testing.T) {
		got := Decode([]byte("\xef\xbb\xbf^XA^XZ"))
		assert.Equal(t, "^XA^XZ", got)
	})
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		name  string
		block string
		want  int
	}{
		{"absent", "^XA^FDx^FS^XZ", 1},
		{"simple", "^XA^PQ12^XZ", 12},
		{"with params", "^XA^PQ7,0,1,Y^XZ", 7},
		{"lower case", "^xa^pq4^xz", 4},
		{"first wins", "^XA^PQ2^PQ9^XZ", 2},
		{"malformed", "^XA^PQ,1^XZ", 1},
		{"zero", "^XA^PQ0^XZ", 1},
		{"overflow", "^XA^PQ999999999999999999999^XZ", 1},
		{"max int", "^XA^PQ9223372036854775807^XZ", 1},
		{"above printer range", "^XA^PQ100000000^XZ", 1},
		{"printer maximum", "^XA^PQ99999999^XZ", MaxQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseQuantity(tc.block))
		})
	}
}

func TestSetQuantity(t *testing.T) {
	t.Run("Should replace only the numeric argument of the first directive", func(t *testing.T) {
		got := SetQuantity("^XA^FDx^FS^PQ120,0,1,Y^PQ3^XZ", 50)
		assert.Equal(t, "^XA^FDx^FS^PQ50,0,1,Y^PQ3^XZ", got)
	})

	t.Run("Should insert the directive before the closing marker", func(t *testing.T) {
		got := SetQuantity("^XA^FDx^FS^XZ", 5)
		assert.Equal(t, "^XA^FDx^FS^PQ5^XZ", got)
	})

	t.Run("Should repair a malformed directive", func(t *testing.T) {
		got := SetQuantity("^XA^PQ,1^XZ", 8)
		assert.Equal(t, "^XA^PQ8,1^XZ", got)
	})

	t.Run("Should round trip through ParseQuantity", func(t *testing.T) {
		blocks := []string{
			"^XA^FDx^FS^XZ",
			"^XA^PQ3^FDx^FS^XZ",
			"^xa^pq 2,0,0,N\n^fdy^fs^xz",
			"^XA^PQ^XZ",
		}
		for _, b := range blocks {
			for _, n := range []int{1, 2, 49, 50, 51, 1000} {
				rewritten := SetQuantity(b, n)
				assert.Equal(t, n, ParseQuantity(rewritten), "block %q n=%d", b, n)
				assert.True(t, strings.HasSuffix(strings.ToUpper(rewritten), "^XZ"))
			}
		}
	})
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "ACME Order 42", Excerpt("^XA^FO1,1^FD ACME   Order 42 ^FS^FDsecond^FS^XZ", 40))
	assert.Equal(t, "^XA ^PQ2 ^XZ", Excerpt("^XA\n^PQ2\n^XZ", 40))
	assert.Equal(t, "abcde…", Excerpt("^XA^FDabcdefgh^FS^XZ", 5))
}
