package repository

import (
	"context"
	"errors"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/hashing"
)

var (
	ErrNotFound = errors.New("submission not found")
	// ErrDuplicateContent is returned by Insert when another submission of the
	// same assignment already owns one of the new content hashes.
	ErrDuplicateContent = errors.New("content hash already submitted for assignment")
)

// SubmissionRepository is the persistence contract of the integrity engine.
// Every Find method returns submissions ordered by creation time and then id,
// both ascending.
type SubmissionRepository interface {
	FindByAssignmentAndContentHash(ctx context.Context, assignmentID, contentHash string) ([]models.Submission, error)
	FindByAssignmentAndAnyPageHash(ctx context.Context, assignmentID string, hashes []string) ([]models.Submission, error)
	Insert(ctx context.Context, submission *models.Submission) (*models.Submission, error)

	GetByID(ctx context.Context, id string) (*models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) ([]models.Submission, int, error)
	UpdateGrade(ctx context.Context, id string, grade float64, comment *string) (*models.Submission, error)
	SaveSimilarity(ctx context.Context, id string, records []models.SimilarSubmissionRecord, isPlagiarized bool) error
	Ping(ctx context.Context) error
}

// uniqueContentHashes lists the content hashes an insert must claim. Blank
// documents such as scanned images all share one hash and are never claimed.
func uniqueContentHashes(s *models.Submission) []string {
	var hashes []string
	for _, h := range s.ContentHashes() {
		if h == "" || h == hashing.BlankHash {
			continue
		}
		hashes = append(hashes, h)
	}
	return hashes
}

func cloneSubmission(s *models.Submission) models.Submission {
	c := *s

	c.Attachments = make([]models.Attachment, len(s.Attachments))
	for i, a := range s.Attachments {
		a.PageHashes = append([]models.PageHash(nil), a.PageHashes...)
		c.Attachments[i] = a
	}

	c.SimilarSubmissions = make([]models.SimilarSubmissionRecord, len(s.SimilarSubmissions))
	for i, r := range s.SimilarSubmissions {
		r.MatchedPages = append([]models.MatchedPage(nil), r.MatchedPages...)
		c.SimilarSubmissions[i] = r
	}

	if s.Grade != nil {
		g := *s.Grade
		c.Grade = &g
	}
	if s.ScoredAt != nil {
		t := *s.ScoredAt
		c.ScoredAt = &t
	}

	return c
}

// IndexEnsurer is implemented by backends that create their lookup indexes at
// startup instead of through migrations.
type IndexEnsurer interface {
	EnsureIndexes(ctx context.Context) error
}
