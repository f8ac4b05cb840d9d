package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/ledongthuc/pdf"
)

// pdfPages returns one page per physical page that carries text. Blank pages
// are dropped but the remaining pages keep their physical page numbers.
func pdfPages(data []byte) ([]models.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	total := reader.NumPage()
	pages := make([]models.Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode page %d: %w", i, err)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		pages = append(pages, models.Page{PageNumber: i, Content: text})
	}

	return pages, nil
}
