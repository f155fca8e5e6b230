package tools

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageExtractor returns the text of each page of a PDF, one string per page.
type PageExtractor func(r io.ReaderAt, size int64) ([]string, error)

// ExtractPDFPages reads page text row by row so line structure survives for
// context windows.
func ExtractPDFPages(r io.ReaderAt, size int64) ([]string, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil || len(rows) == 0 {
			text, err := page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
			pages = append(pages, text)
			continue
		}

		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			var sb strings.Builder
			for _, t := range row.Content {
				sb.WriteString(t.S)
			}
			lines = append(lines, sb.String())
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}
	return pages, nil
}
