// Package detector implements the duplicate gate that runs before a
// submission is persisted.
package detector

import (
	"context"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/hashing"
	"github.com/rs/zerolog"
)

type DuplicateDetector interface {
	// Check tests one attachment against the assignment's stored submissions.
	Check(ctx context.Context, assignmentID string, attachment models.Attachment) (*models.DetectionResult, error)
	// CheckAll runs Check for each attachment in order and stops at the first
	// duplicate. The index of that attachment is returned, or -1.
	CheckAll(ctx context.Context, assignmentID string, attachments []models.Attachment) (*models.DetectionResult, int, error)
}

type Config struct {
	// SkipBlankPages keeps pages and documents without text out of matching.
	SkipBlankPages bool
}

type duplicateDetector struct {
	repo   repository.SubmissionRepository
	config Config
	logger zerolog.Logger
}

func NewDuplicateDetector(repo repository.SubmissionRepository, config Config, logger zerolog.Logger) DuplicateDetector {
	return &duplicateDetector{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

func (d *duplicateDetector) CheckAll(ctx context.Context, assignmentID string, attachments []models.Attachment) (*models.DetectionResult, int, error) {
	for i, attachment := range attachments {
		result, err := d.Check(ctx, assignmentID, attachment)
		if err != nil {
			return nil, -1, err
		}
		if result.IsDuplicate {
			return result, i, nil
		}
	}

	return &models.DetectionResult{}, -1, nil
}

func (d *duplicateDetector) Check(ctx context.Context, assignmentID string, attachment models.Attachment) (*models.DetectionResult, error) {
	if !d.ignored(attachment.ContentHash) {
		matches, err := d.repo.FindByAssignmentAndContentHash(ctx, assignmentID, attachment.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("failed to check full duplicate: %w", err)
		}

		if len(matches) > 0 {
			original := matches[0]

			d.logger.Info().
				Str("assignment_id", assignmentID).
				Str("filename", attachment.Filename).
				Str("original_submission_id", original.ID).
				Int("matches", len(matches)).
				Msg("Full duplicate detected")

			return &models.DetectionResult{
				IsDuplicate: true,
				OriginalSubmission: &models.OriginalSubmission{
					SubmissionID:   original.ID,
					StudentName:    original.StudentName,
					SubmissionDate: original.CreatedAt,
				},
			}, nil
		}
	}

	hashSet := make(map[string]struct{}, len(attachment.PageHashes))
	hashes := make([]string, 0, len(attachment.PageHashes))
	for _, ph := range attachment.PageHashes {
		if d.ignored(ph.Hash) {
			continue
		}
		if _, ok := hashSet[ph.Hash]; ok {
			continue
		}
		hashSet[ph.Hash] = struct{}{}
		hashes = append(hashes, ph.Hash)
	}

	if len(hashes) == 0 {
		return &models.DetectionResult{}, nil
	}

	candidates, err := d.repo.FindByAssignmentAndAnyPageHash(ctx, assignmentID, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to check partial duplicate: %w", err)
	}

	// One entry per stored page whose hash is in the new set, so a new page
	// matching two stored pages yields two entries.
	var duplicatePages []models.DuplicatePage
	for _, candidate := range candidates {
		for _, a := range candidate.Attachments {
			for _, ph := range a.PageHashes {
				if _, ok := hashSet[ph.Hash]; ok {
					duplicatePages = append(duplicatePages, models.DuplicatePage{
						PageNumber:  ph.PageNumber,
						StudentName: candidate.StudentName,
					})
				}
			}
		}
	}

	if len(duplicatePages) == 0 {
		return &models.DetectionResult{}, nil
	}

	matchPercentage := float64(len(duplicatePages)) / float64(len(attachment.PageHashes)) * 100

	d.logger.Info().
		Str("assignment_id", assignmentID).
		Str("filename", attachment.Filename).
		Int("duplicate_pages", len(duplicatePages)).
		Float64("match_percentage", matchPercentage).
		Msg("Partial duplicate detected")

	return &models.DetectionResult{
		IsDuplicate:     true,
		PartialMatch:    true,
		MatchPercentage: matchPercentage,
		DuplicatePages:  duplicatePages,
	}, nil
}

func (d *duplicateDetector) ignored(hash string) bool {
	return hash == "" || (d.config.SkipBlankPages && hash == hashing.BlankHash)
}
