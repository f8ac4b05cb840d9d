// Package scorer builds the similarity report of an accepted submission.
//
// Candidates are fetched through the repository's fingerprint lookups rather
// than by scanning the assignment, and each stored attachment is indexed by
// page hash so the page comparison is a map lookup. The matches produced are
// the same as a full attachment by attachment, page by page comparison.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/hashing"
	"github.com/rs/zerolog"
)

var ErrSubmissionNotFound = errors.New("submission not found")

type SimilarityScorer interface {
	Score(ctx context.Context, submissionID string) (*models.SimilarityReport, error)
}

type Config struct {
	// PlagiarismThreshold marks a submission plagiarized once any record
	// reaches this match percentage.
	PlagiarismThreshold float64
	SkipBlankPages      bool
}

type similarityScorer struct {
	repo   repository.SubmissionRepository
	config Config
	logger zerolog.Logger
}

func NewSimilarityScorer(repo repository.SubmissionRepository, config Config, logger zerolog.Logger) SimilarityScorer {
	return &similarityScorer{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

func (s *similarityScorer) Score(ctx context.Context, submissionID string) (*models.SimilarityReport, error) {
	start := time.Now()

	submission, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	candidates, err := s.candidates(ctx, submission)
	if err != nil {
		return nil, err
	}

	records := Compare(submission, candidates, s.ignored)
	isPlagiarized := false
	for _, r := range records {
		if r.ContentMatches > 0 || r.MatchPercentage >= s.config.PlagiarismThreshold {
			isPlagiarized = true
			break
		}
	}

	if err := s.repo.SaveSimilarity(ctx, submission.ID, records, isPlagiarized); err != nil {
		return nil, fmt.Errorf("failed to save similarity report: %w", err)
	}

	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("assignment_id", submission.AssignmentID).
		Int("candidates", len(candidates)).
		Int("similar_submissions", len(records)).
		Bool("is_plagiarized", isPlagiarized).
		Dur("elapsed", time.Since(start)).
		Msg("Similarity scored")

	return &models.SimilarityReport{
		SubmissionID:       submission.ID,
		AssignmentID:       submission.AssignmentID,
		IsPlagiarized:      isPlagiarized,
		SimilarSubmissions: records,
		ScoredAt:           time.Now().UTC(),
	}, nil
}

// candidates returns the other submissions of the assignment sharing at
// least one page or content fingerprint, in repository order.
func (s *similarityScorer) candidates(ctx context.Context, submission *models.Submission) ([]models.Submission, error) {
	seen := map[string]struct{}{submission.ID: {}}
	var out []models.Submission

	add := func(found []models.Submission) {
		for _, c := range found {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}

	var pageHashes []string
	for _, h := range submission.DistinctPageHashes() {
		if !s.ignored(h) {
			pageHashes = append(pageHashes, h)
		}
	}

	if len(pageHashes) > 0 {
		found, err := s.repo.FindByAssignmentAndAnyPageHash(ctx, submission.AssignmentID, pageHashes)
		if err != nil {
			return nil, fmt.Errorf("failed to find page hash candidates: %w", err)
		}
		add(found)
	}

	for _, h := range submission.ContentHashes() {
		if s.ignored(h) {
			continue
		}
		found, err := s.repo.FindByAssignmentAndContentHash(ctx, submission.AssignmentID, h)
		if err != nil {
			return nil, fmt.Errorf("failed to find content hash candidates: %w", err)
		}
		add(found)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (s *similarityScorer) ignored(hash string) bool {
	return hash == "" || (s.config.SkipBlankPages && hash == hashing.BlankHash)
}

// Compare scores submission against every candidate and returns the records
// sorted by match percentage, highest first. Candidates without any match are
// left out.
func Compare(submission *models.Submission, candidates []models.Submission, ignored func(string) bool) []models.SimilarSubmissionRecord {
	total := submission.PageHashCount()
	records := make([]models.SimilarSubmissionRecord, 0)

	for _, candidate := range candidates {
		if candidate.ID == submission.ID {
			continue
		}

		indexes := make([]map[string][]int, len(candidate.Attachments))
		for i, a := range candidate.Attachments {
			indexes[i] = indexPages(a.PageHashes)
		}

		contentMatches := 0
		var matched []models.MatchedPage
		for _, newAtt := range submission.Attachments {
			for i, oldAtt := range candidate.Attachments {
				if newAtt.ContentHash == oldAtt.ContentHash && !ignored(newAtt.ContentHash) {
					contentMatches++
				}

				for _, ph := range newAtt.PageHashes {
					if ignored(ph.Hash) {
						continue
					}
					for _, target := range indexes[i][ph.Hash] {
						matched = append(matched, models.MatchedPage{
							SourcePageNumber: ph.PageNumber,
							TargetPageNumber: target,
							Hash:             ph.Hash,
						})
					}
				}
			}
		}

		if len(matched) == 0 && contentMatches == 0 {
			continue
		}

		percentage := 0.0
		if total > 0 {
			percentage = math.Min(100, float64(len(matched))/float64(total)*100)
		}

		records = append(records, models.SimilarSubmissionRecord{
			SubmissionID:    candidate.ID,
			MatchPercentage: percentage,
			ContentMatches:  contentMatches,
			MatchedPages:    matched,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].MatchPercentage != records[j].MatchPercentage {
			return records[i].MatchPercentage > records[j].MatchPercentage
		}
		return records[i].ContentMatches > records[j].ContentMatches
	})

	return records
}

func indexPages(pageHashes []models.PageHash) map[string][]int {
	index := make(map[string][]int, len(pageHashes))
	for _, ph := range pageHashes {
		index[ph.Hash] = append(index[ph.Hash], ph.PageNumber)
	}
	return index
}
