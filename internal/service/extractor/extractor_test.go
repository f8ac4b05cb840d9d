package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/extractor/extractortest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`))
	require.NoError(t, err)

	w, err = zw.Create(docxBody)
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body +
		`</w:body></w:document>`))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func paragraph(text string) string {
	return `<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

const docxPageBreak = `<w:p><w:r><w:br w:type="page"/></w:r></w:p>`

func TestExtractDocxSplitsOnPageBreaks(t *testing.T) {
	data := buildDocx(t, paragraph("First page")+docxPageBreak+docxPageBreak+paragraph("Third page"))

	pages := New(Config{}, zerolog.Nop()).Extract(context.Background(), data, MimeDOCX)

	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
	}
	assert.Equal(t, "First page", strings.TrimSpace(pages[0].Content))
	assert.Empty(t, strings.TrimSpace(pages[1].Content))
	assert.Equal(t, "Third page", strings.TrimSpace(pages[2].Content))
}

func TestExtractDocxWithoutBreaksIsOnePage(t *testing.T) {
	data := buildDocx(t, paragraph("Only")+`<w:p><w:r><w:t>line</w:t><w:tab/><w:t>two</w:t><w:br/></w:r></w:p>`)

	pages := New(Config{}, zerolog.Nop()).Extract(context.Background(), data, MimeDOCX)

	require.Len(t, pages, 1)
	assert.Equal(t, "Only\nline\ttwo\n\n", pages[0].Content)
}

func TestExtractPDFDropsBlankPagesAndKeepsNumbering(t *testing.T) {
	data := extractortest.PDF("Page1 text", "", "Page3 text")

	pages := New(Config{}, zerolog.Nop()).Extract(context.Background(), data, MimePDF)

	assert.Equal(t, []models.Page{
		{PageNumber: 1, Content: "Page1 text"},
		{PageNumber: 3, Content: "Page3 text"},
	}, pages)
}

func TestExtractPDFWithOnlyBlankPages(t *testing.T) {
	data := extractortest.PDF("", "")

	pages := New(Config{}, zerolog.Nop()).Extract(context.Background(), data, MimePDF)

	assert.Empty(t, pages)
}

func TestExtractOversizedDocxFallsBack(t *testing.T) {
	data := buildDocx(t, paragraph(strings.Repeat("a", 64*1024)))
	require.Less(t, len(data), 4*1024)

	pages := New(Config{MaxTextBytes: 8 * 1024}, zerolog.Nop()).Extract(context.Background(), data, MimeDOCX)

	require.Len(t, pages, 1)
	assert.Equal(t, decodeText(data), pages[0].Content)
}

func TestDocumentTextCapsStream(t *testing.T) {
	markup := `<w:document><w:body>` + paragraph(strings.Repeat("b", 2048)) + `</w:body></w:document>`

	_, err := documentText(strings.NewReader(markup), 1024)
	assert.ErrorIs(t, err, errDocumentTooLarge)

	text, err := documentText(strings.NewReader(markup), int64(len(markup)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 2048)+"\n", text)
}

func TestExtractMalformedPDFFallsBack(t *testing.T) {
	data := []byte("this is definitely not a pdf stream")

	pages := New(Config{}, zerolog.Nop()).Extract(context.Background(), data, MimePDF)

	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Equal(t, string(data), pages[0].Content)
}

func TestExtractMalformedDocxFallsBack(t *testing.T) {
	data := []byte("PK not really a zip")

	pages := New(Config{}, zerolog.Nop()).Extract(context.Background(), data, MimeDOCX)

	require.Len(t, pages, 1)
	assert.Equal(t, string(data), pages[0].Content)
}

func TestExtractTimeoutFallsBack(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	e := newExtractor(Config{Timeout: 20 * time.Millisecond}, zerolog.Nop(), map[string]parseFunc{
		MimePDF: func(data []byte) ([]models.Page, error) {
			<-block
			return nil, nil
		},
	})

	start := time.Now()
	pages := e.Extract(context.Background(), []byte("%PDF-1.4 stuck"), MimePDF)

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, pages, 1)
	assert.Equal(t, "%PDF-1.4 stuck", pages[0].Content)
}

func TestExtractParserPanicFallsBack(t *testing.T) {
	e := newExtractor(Config{}, zerolog.Nop(), map[string]parseFunc{
		MimePDF: func(data []byte) ([]models.Page, error) {
			panic("corrupt xref")
		},
	})

	pages := e.Extract(context.Background(), []byte("raw"), MimePDF)

	require.Len(t, pages, 1)
	assert.Equal(t, "raw", pages[0].Content)
}

func TestExtractParserErrorFallsBack(t *testing.T) {
	e := newExtractor(Config{}, zerolog.Nop(), map[string]parseFunc{
		MimePDF: func(data []byte) ([]models.Page, error) {
			return nil, errors.New("decode error")
		},
	})

	pages := e.Extract(context.Background(), []byte("raw"), MimePDF)

	require.Len(t, pages, 1)
	assert.Equal(t, "raw", pages[0].Content)
}

func TestExtractSinglePageTypes(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		data     []byte
		want     string
	}{
		{name: "plain text", mimeType: MimeText, data: []byte("hello world"), want: "hello world"},
		{name: "plain text with bom", mimeType: MimeText, data: append([]byte{0xEF, 0xBB, 0xBF}, "hi"...), want: "hi"},
		{name: "invalid utf8 is replaced", mimeType: MimeText, data: []byte{'a', 0xff, 'b'}, want: "a�b"},
		{name: "legacy word", mimeType: MimeDOC, data: []byte("binary doc"), want: "binary doc"},
		{name: "jpeg", mimeType: MimeJPEG, data: []byte{0xff, 0xd8, 0xff}, want: ""},
		{name: "png", mimeType: MimePNG, data: []byte{0x89, 'P', 'N', 'G'}, want: ""},
	}

	e := New(Config{}, zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := e.Extract(context.Background(), tt.data, tt.mimeType)
			require.Len(t, pages, 1)
			assert.Equal(t, 1, pages[0].PageNumber)
			assert.Equal(t, tt.want, pages[0].Content)
		})
	}
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		fileName string
		declared string
		want     string
	}{
		{fileName: "essay.pdf", declared: "application/pdf", want: MimePDF},
		{fileName: "essay.pdf", declared: "", want: MimePDF},
		{fileName: "essay.DOCX", declared: "application/octet-stream", want: MimeDOCX},
		{fileName: "notes.txt", declared: "text/plain; charset=utf-8", want: MimeText},
		{fileName: "archive.zip", declared: "", want: MimeOctetStr},
	}

	for _, tt := range tests {
		t.Run(tt.fileName+"|"+tt.declared, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMimeType(tt.fileName, tt.declared))
		})
	}
}

func TestIsAllowed(t *testing.T) {
	assert.True(t, IsAllowed(MimePDF, "a.pdf", AllowedTypes))
	assert.True(t, IsAllowed(MimePNG, "a.png", AllowedTypes))
	assert.False(t, IsAllowed("application/zip", "a.zip", AllowedTypes))
	assert.True(t, IsAllowed("application/zip", "a.zip", nil))
	assert.True(t, IsAllowed("application/octet-stream", "a.md", []string{".md"}))
}
