package pack

import (
	"errors"
	"fmt"
	"strings"

	"zplmerge/internal/zpl"
)

// DefaultItemCap is the number of labels the renderer accepts per call.
const DefaultItemCap = 50

var ErrInvalidCap = errors.New("item cap must be >= 1")

// Item is a block, or one fragment of a block split to fit the cap.
type Item struct {
	zpl.Block
	Part  int `json:"part"`
	Parts int `json:"parts"`
}

// Batch is the unit of work sent to the renderer in a single call.
type Batch struct {
	Index int    `json:"index"` // 1-based
	Items []Item `json:"items"`
}

// NewBatch wraps whole blocks into a batch without splitting them.
func NewBatch(index int, blocks []zpl.Block) Batch {
	items := make([]Item, 0, len(blocks))
	for _, b := range blocks {
		items = append(items, Item{Block: b, Part: 1, Parts: 1})
	}
	return Batch{Index: index, Items: items}
}

// Total is the summed copy count of the batch.
func (b Batch) Total() int {
	total := 0
	for _, it := range b.Items {
		total += it.Quantity
	}
	return total
}

// Payload is the request body: item texts joined by newlines.
func (b Batch) Payload() string {
	texts := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		texts = append(texts, it.Text)
	}
	return strings.Join(texts, "\n")
}

// BlockIndices lists the distinct source block indices in the batch, in order.
func (b Batch) BlockIndices() []int {
	indices := make([]int, 0, len(b.Items))
	for i, it := range b.Items {
		if i > 0 && b.Items[i-1].Index == it.Index {
			continue
		}
		indices = append(indices, it.Index)
	}
	return indices
}

// Pack groups blocks into batches whose copy count never exceeds itemCap.
// Blocks keep their order. A block above the cap is split into fragments of
// itemCap copies plus a remainder. Packing is greedy: the current batch is
// closed as soon as the next item would overflow it.
func Pack(blocks []zpl.Block, itemCap int) ([]Batch, error) {
	if itemCap < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCap, itemCap)
	}

	var (
		batches []Batch
		current []Item
		total   int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, Batch{Index: len(batches) + 1, Items: current})
		current = nil
		total = 0
	}

	for _, block := range blocks {
		for _, item := range Split(block, itemCap) {
			if total+item.Quantity > itemCap {
				flush()
			}
			current = append(current, item)
			total += item.Quantity
		}
	}
	flush()
	return batches, nil
}

// Split cuts a block whose copy count exceeds itemCap into consecutive
// fragments with rewritten quantities. Blocks within the cap come back whole.
func Split(block zpl.Block, itemCap int) []Item {
	if itemCap < 1 || block.Quantity <= itemCap {
		return []Item{{Block: block, Part: 1, Parts: 1}}
	}

	parts := block.Quantity / itemCap
	if block.Quantity%itemCap != 0 {
		parts++
	}
	items := make([]Item, 0, parts)
	remaining := block.Quantity
	for part := 1; remaining > 0; part++ {
		n := min(itemCap, remaining)
		fragment := block
		fragment.Text = zpl.SetQuantity(block.Text, n)
		fragment.Quantity = n
		items = append(items, Item{Block: fragment, Part: part, Parts: parts})
		remaining -= n
	}
	return items
}

// Chunk groups blocks by count, ignoring copy counts. Batches are numbered
// from 1 and blocks are never split.
func Chunk(blocks []zpl.Block, size int) ([]Batch, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidCap, size)
	}
	batches := make([]Batch, 0, (len(blocks)+size-1)/size)
	for start := 0; start < len(blocks); start += size {
		end := min(start+size, len(blocks))
		batches = append(batches, NewBatch(len(batches)+1, blocks[start:end]))
	}
	return batches, nil
}
