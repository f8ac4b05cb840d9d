package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
)

// memorySubmissionRepository keeps submissions in process memory. It enforces
// the same content hash uniqueness as the SQL schema and is used for local
// runs and tests.
type memorySubmissionRepository struct {
	mu            sync.RWMutex
	submissions   map[string]*models.Submission
	order         []string
	contentOwners map[string]string
	now           func() time.Time
}

func NewMemorySubmissionRepository() SubmissionRepository {
	return &memorySubmissionRepository{
		submissions:   make(map[string]*models.Submission),
		contentOwners: make(map[string]string),
		now:           time.Now,
	}
}

func contentKey(assignmentID, hash string) string {
	return assignmentID + "\x00" + hash
}

func (r *memorySubmissionRepository) FindByAssignmentAndContentHash(ctx context.Context, assignmentID, contentHash string) ([]models.Submission, error) {
	return r.find(assignmentID, func(s *models.Submission) bool {
		for _, a := range s.Attachments {
			if a.ContentHash == contentHash {
				return true
			}
		}
		return false
	}), nil
}

func (r *memorySubmissionRepository) FindByAssignmentAndAnyPageHash(ctx context.Context, assignmentID string, hashes []string) ([]models.Submission, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	wanted := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		wanted[h] = struct{}{}
	}

	return r.find(assignmentID, func(s *models.Submission) bool {
		for _, a := range s.Attachments {
			for _, ph := range a.PageHashes {
				if _, ok := wanted[ph.Hash]; ok {
					return true
				}
			}
		}
		return false
	}), nil
}

func (r *memorySubmissionRepository) Insert(ctx context.Context, submission *models.Submission) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hashes := uniqueContentHashes(submission)
	for _, h := range hashes {
		if _, taken := r.contentOwners[contentKey(submission.AssignmentID, h)]; taken {
			return nil, ErrDuplicateContent
		}
	}

	now := r.now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now

	for _, h := range hashes {
		r.contentOwners[contentKey(submission.AssignmentID, h)] = submission.ID
	}

	stored := cloneSubmission(submission)
	r.submissions[submission.ID] = &stored
	r.order = append(r.order, submission.ID)

	return submission, nil
}

func (r *memorySubmissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}

	c := cloneSubmission(s)
	return &c, nil
}

func (r *memorySubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) ([]models.Submission, int, error) {
	all := r.find(assignmentID, func(*models.Submission) bool { return true })

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	total := len(all)
	if offset >= total {
		return []models.Submission{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	return all[offset:end], total, nil
}

func (r *memorySubmissionRepository) UpdateGrade(ctx context.Context, id string, grade float64, comment *string) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}

	s.Grade = &grade
	if comment != nil {
		s.Comment = *comment
	}
	s.UpdatedAt = r.now().UTC()

	c := cloneSubmission(s)
	return &c, nil
}

func (r *memorySubmissionRepository) SaveSimilarity(ctx context.Context, id string, records []models.SimilarSubmissionRecord, isPlagiarized bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.submissions[id]
	if !ok {
		return ErrNotFound
	}

	scored := &models.Submission{SimilarSubmissions: records}
	s.SimilarSubmissions = cloneSubmission(scored).SimilarSubmissions
	s.IsPlagiarized = isPlagiarized
	now := r.now().UTC()
	s.ScoredAt = &now
	s.UpdatedAt = now

	return nil
}

func (r *memorySubmissionRepository) Ping(ctx context.Context) error {
	return nil
}

// find returns matching submissions of the assignment ordered by creation
// time and id ascending.
func (r *memorySubmissionRepository) find(assignmentID string, match func(*models.Submission) bool) []models.Submission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Submission
	for _, id := range r.order {
		s := r.submissions[id]
		if s.AssignmentID != assignmentID || !match(s) {
			continue
		}
		out = append(out, cloneSubmission(s))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}
