// Package hashing derives the page and document fingerprints used for
// duplicate detection. Every function here is pure.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
)

const Algorithm = "sha256"

// BlankHash is the fingerprint of a page with no text after trimming.
var BlankHash = PageHash("")

// PageHash returns the hex SHA-256 of the trimmed text. No other
// normalization is applied.
func PageHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// ContentHash hashes the trimmed page texts concatenated in extraction order
// without a separator, so reordering pages changes the result.
func ContentHash(pages []models.Page) string {
	h := sha256.New()
	for _, p := range pages {
		_, _ = io.WriteString(h, strings.TrimSpace(p.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes both the per-page hashes and the content hash of an
// extracted document.
func Fingerprint(pages []models.Page) ([]models.PageHash, string) {
	pageHashes := make([]models.PageHash, 0, len(pages))
	for _, p := range pages {
		pageHashes = append(pageHashes, models.PageHash{
			PageNumber: p.PageNumber,
			Hash:       PageHash(p.Content),
		})
	}
	return pageHashes, ContentHash(pages)
}

// Verify reports whether text hashes to expected.
func Verify(text, expected string) bool {
	return PageHash(text) == expected
}
