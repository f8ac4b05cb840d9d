// Package extractor turns uploaded document bytes into ordered pages of text.
//
// Extraction never fails from the caller's point of view: a parser error, a
// panic inside a parser or an exceeded deadline all degrade to a single page
// holding the raw bytes decoded as text.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxTextBytes = 32 << 20
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) []models.Page
}

type parseFunc func(data []byte) ([]models.Page, error)

type Config struct {
	Timeout time.Duration
	// MaxTextBytes caps the decompressed markup a container format may
	// inflate to.
	MaxTextBytes int64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTextBytes <= 0 {
		c.MaxTextBytes = DefaultMaxTextBytes
	}
	return c
}

type extractor struct {
	config  Config
	parsers map[string]parseFunc
	logger  zerolog.Logger
}

func New(config Config, logger zerolog.Logger) Extractor {
	config = config.withDefaults()
	return newExtractor(config, logger, map[string]parseFunc{
		MimePDF:  pdfPages,
		MimeDOCX: docxParser(config.MaxTextBytes),
	})
}

func newExtractor(config Config, logger zerolog.Logger, parsers map[string]parseFunc) *extractor {
	return &extractor{
		config:  config.withDefaults(),
		parsers: parsers,
		logger:  logger,
	}
}

func (e *extractor) Extract(ctx context.Context, data []byte, mimeType string) []models.Page {
	if isImage(mimeType) {
		return []models.Page{{PageNumber: 1, Content: ""}}
	}

	parse, ok := e.parsers[mimeType]
	if !ok {
		return fallbackPages(data)
	}

	start := time.Now()
	pages, err := e.parseWithTimeout(ctx, data, parse)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("mime_type", mimeType).
			Int("size", len(data)).
			Dur("elapsed", time.Since(start)).
			Msg("Text extraction failed, using raw text fallback")
		return fallbackPages(data)
	}

	e.logger.Debug().
		Str("mime_type", mimeType).
		Int("page_count", len(pages)).
		Dur("elapsed", time.Since(start)).
		Msg("Text extracted")

	return pages
}

// parseWithTimeout runs parse on its own goroutine. When the deadline passes
// first the goroutine is abandoned and finishes in the background.
func (e *extractor) parseWithTimeout(ctx context.Context, data []byte, parse parseFunc) ([]models.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	type result struct {
		pages []models.Page
		err   error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()

		pages, err := parse(data)
		done <- result{pages: pages, err: err}
	}()

	select {
	case res := <-done:
		return res.pages, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("extraction aborted: %w", ctx.Err())
	}
}

func fallbackPages(data []byte) []models.Page {
	return []models.Page{{PageNumber: 1, Content: decodeText(data)}}
}

// decodeText interprets data as UTF-8, replacing invalid sequences.
func decodeText(data []byte) string {
	return strings.ToValidUTF8(string(bytes.TrimPrefix(data, utf8BOM)), "�")
}
