// Package pdfutil turns lab report PDFs into the plain text recorded as an
// asset's lab analysis.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// MaxAnalysisRunes bounds the text stored on an asset. The full text stays in
// object storage.
const MaxAnalysisRunes = 4096

// ErrNoText is returned for PDFs without a text layer, such as scanned
// certificates.
var ErrNoText = errors.New("pdf has no extractable text")

// ExtractText returns the plain text of every page of a lab report, one page
// per block. The pdf reader panics on some malformed cross-reference tables,
// so panics are reported as errors.
func ExtractText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrNoText
	}
	return b.String(), nil
}

// Summarize collapses whitespace runs into single spaces, keeping line breaks
// between non-empty lines, and truncates the result to max runes.
func Summarize(text string, max int) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return strings.TrimSpace(string(runes[:max]))
}
