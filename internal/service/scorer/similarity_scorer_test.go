package scorer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/hashing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachmentOf(pages ...string) models.Attachment {
	ps := make([]models.Page, 0, len(pages))
	for i, p := range pages {
		ps = append(ps, models.Page{PageNumber: i + 1, Content: p})
	}
	pageHashes, contentHash := hashing.Fingerprint(ps)
	return models.Attachment{Filename: "f.pdf", PageHashes: pageHashes, ContentHash: contentHash}
}

func insert(t *testing.T, repo repository.SubmissionRepository, id string, created time.Time, attachments ...models.Attachment) {
	t.Helper()
	_, err := repo.Insert(context.Background(), &models.Submission{
		ID:           id,
		AssignmentID: "a1",
		StudentID:    id,
		StudentName:  id,
		Attachments:  attachments,
		CreatedAt:    created,
	})
	require.NoError(t, err)
}

func noneIgnored(string) bool { return false }

// crossProduct is the unindexed reference comparison.
func crossProduct(submission *models.Submission, candidates []models.Submission) map[string][]models.MatchedPage {
	out := make(map[string][]models.MatchedPage)
	for _, c := range candidates {
		var matched []models.MatchedPage
		for _, na := range submission.Attachments {
			for _, oa := range c.Attachments {
				for _, np := range na.PageHashes {
					for _, op := range oa.PageHashes {
						if np.Hash == op.Hash {
							matched = append(matched, models.MatchedPage{
								SourcePageNumber: np.PageNumber,
								TargetPageNumber: op.PageNumber,
								Hash:             np.Hash,
							})
						}
					}
				}
			}
		}
		if len(matched) > 0 {
			out[c.ID] = matched
		}
	}
	return out
}

func TestCompareMatchesCrossProduct(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vocabulary := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}

	randomAttachment := func() models.Attachment {
		n := 1 + rng.Intn(5)
		pages := make([]string, n)
		for i := range pages {
			pages[i] = vocabulary[rng.Intn(len(vocabulary))]
		}
		return attachmentOf(pages...)
	}

	for round := 0; round < 25; round++ {
		submission := &models.Submission{ID: "new", Attachments: []models.Attachment{randomAttachment(), randomAttachment()}}

		var candidates []models.Submission
		for i := 0; i < 4; i++ {
			candidates = append(candidates, models.Submission{
				ID:          fmt.Sprintf("c%d", i),
				Attachments: []models.Attachment{randomAttachment(), randomAttachment()},
			})
		}

		want := crossProduct(submission, candidates)
		records := Compare(submission, candidates, noneIgnored)

		got := make(map[string][]models.MatchedPage)
		for _, r := range records {
			got[r.SubmissionID] = r.MatchedPages
			expectedPct := float64(len(want[r.SubmissionID])) / float64(submission.PageHashCount()) * 100
			if expectedPct > 100 {
				expectedPct = 100
			}
			assert.InDelta(t, expectedPct, r.MatchPercentage, 1e-9)
		}

		require.Equal(t, len(want), len(got), "round %d", round)
		for id, matched := range want {
			assert.ElementsMatch(t, matched, got[id], "round %d candidate %s", round, id)
		}
	}
}

func TestCompareCountsContentMatchesAndRanks(t *testing.T) {
	submission := &models.Submission{
		ID:          "new",
		Attachments: []models.Attachment{attachmentOf("p1", "p2", "p3", "p4")},
	}
	candidates := []models.Submission{
		{ID: "one-page", Attachments: []models.Attachment{attachmentOf("p1")}},
		{ID: "identical", Attachments: []models.Attachment{attachmentOf("p1", "p2", "p3", "p4")}},
		{ID: "unrelated", Attachments: []models.Attachment{attachmentOf("zzz")}},
		{ID: "new", Attachments: []models.Attachment{attachmentOf("p1", "p2", "p3", "p4")}},
	}

	records := Compare(submission, candidates, noneIgnored)

	require.Len(t, records, 2)
	assert.Equal(t, "identical", records[0].SubmissionID)
	assert.Equal(t, 1, records[0].ContentMatches)
	assert.InDelta(t, 100.0, records[0].MatchPercentage, 1e-9)
	assert.Len(t, records[0].MatchedPages, 4)

	assert.Equal(t, "one-page", records[1].SubmissionID)
	assert.Equal(t, 0, records[1].ContentMatches)
	assert.InDelta(t, 25.0, records[1].MatchPercentage, 1e-9)
	assert.Equal(t, []models.MatchedPage{{SourcePageNumber: 1, TargetPageNumber: 1, Hash: hashing.PageHash("p1")}}, records[1].MatchedPages)
}

func TestScorePersistsReport(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySubmissionRepository()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	insert(t, repo, "old", base, attachmentOf("Page1 text", "Page2 text"))
	insert(t, repo, "unrelated", base.Add(time.Minute), attachmentOf("nothing in common"))
	insert(t, repo, "new", base.Add(time.Hour), attachmentOf("Page1 text", "Different page"))

	s := NewSimilarityScorer(repo, Config{PlagiarismThreshold: 50, SkipBlankPages: true}, zerolog.Nop())
	report, err := s.Score(ctx, "new")
	require.NoError(t, err)

	require.Len(t, report.SimilarSubmissions, 1)
	assert.Equal(t, "old", report.SimilarSubmissions[0].SubmissionID)
	assert.InDelta(t, 50.0, report.SimilarSubmissions[0].MatchPercentage, 1e-9)
	assert.True(t, report.IsPlagiarized)

	stored, err := repo.GetByID(ctx, "new")
	require.NoError(t, err)
	assert.True(t, stored.IsPlagiarized)
	assert.Equal(t, report.SimilarSubmissions, stored.SimilarSubmissions)
	require.NotNil(t, stored.ScoredAt)

	old, err := repo.GetByID(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, old.SimilarSubmissions)
}

func TestScoreBelowThreshold(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySubmissionRepository()

	insert(t, repo, "old", time.Now(), attachmentOf("shared"))
	insert(t, repo, "new", time.Now().Add(time.Second), attachmentOf("shared", "b", "c", "d"))

	s := NewSimilarityScorer(repo, Config{PlagiarismThreshold: 50}, zerolog.Nop())
	report, err := s.Score(ctx, "new")
	require.NoError(t, err)

	require.Len(t, report.SimilarSubmissions, 1)
	assert.InDelta(t, 25.0, report.SimilarSubmissions[0].MatchPercentage, 1e-9)
	assert.False(t, report.IsPlagiarized)
}

func TestScoreSkipsBlankPages(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySubmissionRepository()

	insert(t, repo, "scan-1", time.Now(), attachmentOf(""))
	insert(t, repo, "scan-2", time.Now().Add(time.Second), attachmentOf(""))

	s := NewSimilarityScorer(repo, Config{PlagiarismThreshold: 50, SkipBlankPages: true}, zerolog.Nop())
	report, err := s.Score(ctx, "scan-2")
	require.NoError(t, err)

	assert.Empty(t, report.SimilarSubmissions)
	assert.False(t, report.IsPlagiarized)
}

func TestScoreUnknownSubmission(t *testing.T) {
	s := NewSimilarityScorer(repository.NewMemorySubmissionRepository(), Config{}, zerolog.Nop())

	_, err := s.Score(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}
