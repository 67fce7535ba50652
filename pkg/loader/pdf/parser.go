package pdf

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/loader"

	"github.com/ledongthuc/pdf"
)

var reNewlines = regexp.MustCompile(`\n{3,}`)

// parsePDF stages input in a temp file and extracts plain text page by page.
// The temp file is removed on every path.
func parsePDF(input []byte, dir string) (out []byte, err error) {
	tmp, err := os.CreateTemp(dir, "paper-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(input); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	// the pdf package panics on some malformed cross reference tables
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, r, err := pdf.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var builder strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return nil, loader.ErrEmptyText
	}
	text = reNewlines.ReplaceAllString(text, "\n\n")

	return []byte(text), nil
}
