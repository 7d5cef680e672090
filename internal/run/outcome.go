package run

import (
	"fmt"
	"strings"

	"zplmerge/internal/labelary"
	"zplmerge/internal/pack"
	"zplmerge/internal/zpl"
)

const excerptRunes = 60

// FailedBlock identifies a block, or fragment, that did not make it into the
// merged document.
type FailedBlock struct {
	Index    int    `json:"index"`
	Quantity int    `json:"quantity"`
	Part     int    `json:"part"`
	Parts    int    `json:"parts"`
	Excerpt  string `json:"excerpt"`
}

// Failure records one batch that could not be rendered.
type Failure struct {
	Batch   int                  `json:"batch"`
	Blocks  []FailedBlock        `json:"blocks"`
	Kind    labelary.FailureKind `json:"kind"`
	Status  int                  `json:"status"`
	Message string               `json:"message"`
}

func newFailure(b pack.Batch, f *labelary.Failure) Failure {
	blocks := make([]FailedBlock, 0, len(b.Items))
	for _, it := range b.Items {
		blocks = append(blocks, FailedBlock{
			Index:    it.Index,
			Quantity: it.Quantity,
			Part:     it.Part,
			Parts:    it.Parts,
			Excerpt:  zpl.Excerpt(it.Text, excerptRunes),
		})
	}
	return Failure{Batch: b.Index, Blocks: blocks, Kind: f.Kind, Status: f.Status, Message: f.Message}
}

// StatusText renders the HTTP status, the transport-error marker, or
// "no response" when the batch never got an answer.
func (f Failure) StatusText() string {
	switch {
	case f.Status > 0:
		return fmt.Sprintf("HTTP %d", f.Status)
	case f.Kind == labelary.KindRetriesExhausted:
		return "transport error"
	default:
		return "no response"
	}
}

// Outcome is everything a finished run produced.
type Outcome struct {
	Strategy  Strategy  `json:"strategy"`
	Document  []byte    `json:"-"`
	Pages     int       `json:"pages"`
	Blocks    int       `json:"blocks"`
	Labels    int       `json:"labels"`
	Batches   int       `json:"batches"`
	Succeeded int       `json:"succeeded"`
	Failures  []Failure `json:"failures"`
}

// FailedBlocks flattens failures into the blocks an operator has to resubmit.
func (o *Outcome) FailedBlocks() []FailedBlock {
	var out []FailedBlock
	for _, f := range o.Failures {
		out = append(out, f.Blocks...)
	}
	return out
}

// Summary is a human-readable report of the run, one line per failed block.
func (o *Outcome) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d block(s), %d label(s), %d/%d batch(es) rendered, %d page(s)\n",
		o.Blocks, o.Labels, o.Succeeded, o.Batches, o.Pages)
	for _, f := range o.Failures {
		for _, b := range f.Blocks {
			part := ""
			if b.Parts > 1 {
				part = fmt.Sprintf(" part %d/%d", b.Part, b.Parts)
			}
			fmt.Fprintf(&sb, "FAILED block #%d%s x%d (batch %d, %s, %s): %s | %s\n",
				b.Index, part, b.Quantity, f.Batch, f.StatusText(), f.Kind, b.Excerpt, f.Message)
		}
	}
	return sb.String()
}
