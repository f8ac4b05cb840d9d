package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
)

const (
	docxBody  = "word/document.xml"
	pageBreak = "\f"
)

var (
	errNoDocumentBody   = errors.New("docx archive has no document body")
	errDocumentTooLarge = errors.New("docx document body exceeds size limit")
)

// docxParser returns a parseFunc that refuses document bodies inflating past
// maxBytes.
func docxParser(maxBytes int64) parseFunc {
	return func(data []byte) ([]models.Page, error) {
		return docxPages(data, maxBytes)
	}
}

// docxPages splits the document text on explicit page breaks. Every segment
// becomes a page, empty ones included.
func docxPages(data []byte, maxBytes int64) ([]models.Page, error) {
	text, err := docxText(data, maxBytes)
	if err != nil {
		return nil, err
	}

	segments := strings.Split(text, pageBreak)
	pages := make([]models.Page, 0, len(segments))
	for i, segment := range segments {
		pages = append(pages, models.Page{PageNumber: i + 1, Content: segment})
	}

	return pages, nil
}

// docxText flattens word/document.xml into plain text. Paragraphs end with a
// newline and <w:br w:type="page"/> becomes a form feed.
func docxText(data []byte, maxBytes int64) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx archive: %w", err)
	}

	var body *zip.File
	for _, f := range archive.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", errNoDocumentBody
	}
	if maxBytes > 0 && body.UncompressedSize64 > uint64(maxBytes) {
		return "", fmt.Errorf("%w: declared %d bytes", errDocumentTooLarge, body.UncompressedSize64)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open document body: %w", err)
	}
	defer rc.Close()

	return documentText(rc, maxBytes)
}

// documentText reads at most maxBytes of WordprocessingML from r. The size
// header of a zip entry is not trusted, so the stream itself is capped too.
func documentText(r io.Reader, maxBytes int64) (string, error) {
	var limited *io.LimitedReader
	if maxBytes > 0 {
		limited = &io.LimitedReader{R: r, N: maxBytes + 1}
		r = limited
	}

	var (
		b      strings.Builder
		inText bool
	)

	decoder := xml.NewDecoder(r)
	for {
		token, err := decoder.Token()
		if limited != nil && limited.N <= 0 {
			return "", errDocumentTooLarge
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse document body: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "cr":
				b.WriteByte('\n')
			case "br":
				if attrValue(t, "type") == "page" {
					b.WriteString(pageBreak)
				} else {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
