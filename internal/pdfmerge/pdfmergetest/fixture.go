// Package pdfmergetest builds small PDF documents for tests.
package pdfmergetest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

// PageHeight is the height in points of every generated page.
const PageHeight = 300

// Document returns a PDF with one page per width (in points). Distinct widths
// let tests check page order after a merge.
func Document(widths ...float64) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 10)
	for i, w := range widths {
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: PageHeight})
		pdf.Text(10, 20, fmt.Sprintf("page %d", i+1))
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render fixture: %w", err)
	}
	return buf.Bytes(), nil
}

// MustDocument is Document for tests.
func MustDocument(tb testing.TB, widths ...float64) []byte {
	tb.Helper()
	doc, err := Document(widths...)
	if err != nil {
		tb.Fatalf("build pdf fixture: %v", err)
	}
	return doc
}
