package pdfmerge

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	ErrCorrupt        = errors.New("unreadable pdf document")
	ErrNothingToMerge = errors.New("no documents to merge")
)

func init() {
	// keep pdfcpu from creating a config directory under the user's home
	api.DisableConfigDir()
}

func newConfig() *model.Configuration {
	return model.NewDefaultConfiguration()
}

// Merge concatenates every page of every document, in the order given.
// A document that cannot be parsed aborts the merge with ErrCorrupt.
func Merge(docs [][]byte) ([]byte, error) {
	if len(docs) == 0 {
		return nil, ErrNothingToMerge
	}

	readers := make([]io.ReadSeeker, 0, len(docs))
	for i, doc := range docs {
		if err := api.Validate(bytes.NewReader(doc), newConfig()); err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrCorrupt, i+1, err) //nolint:errorlint
		}
		readers = append(readers, bytes.NewReader(doc))
	}
	if len(docs) == 1 {
		return bytes.Clone(docs[0]), nil
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, newConfig()); err != nil {
		return nil, fmt.Errorf("merge documents: %w", err)
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages in doc.
func PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), newConfig())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err) //nolint:errorlint
	}
	return n, nil
}
