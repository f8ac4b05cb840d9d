package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const submissionColumns = `
	id, assignment_id, student_id, student_name, comment, grade,
	is_plagiarized, similar_submissions, scored_at, created_at, updated_at
`

type postgresSubmissionRepository struct {
	*PostgresRepository
}

func NewPostgresSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &postgresSubmissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *postgresSubmissionRepository) FindByAssignmentAndContentHash(ctx context.Context, assignmentID, contentHash string) ([]models.Submission, error) {
	query := `
		SELECT DISTINCT a.submission_id
		FROM submission_attachments a
		JOIN submissions s ON s.id = a.submission_id
		WHERE s.assignment_id = $1 AND a.content_hash = $2
	`

	ids, err := r.queryIDs(ctx, query, assignmentID, contentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions by content hash: %w", err)
	}

	return r.loadSubmissions(ctx, ids)
}

func (r *postgresSubmissionRepository) FindByAssignmentAndAnyPageHash(ctx context.Context, assignmentID string, hashes []string) ([]models.Submission, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT submission_id
		FROM submission_page_hashes
		WHERE assignment_id = $1 AND hash = ANY($2)
	`

	ids, err := r.queryIDs(ctx, query, assignmentID, pq.Array(hashes))
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions by page hashes: %w", err)
	}

	return r.loadSubmissions(ctx, ids)
}

func (r *postgresSubmissionRepository) Insert(ctx context.Context, submission *models.Submission) (*models.Submission, error) {
	now := time.Now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now

	similar, err := json.Marshal(nonNilRecords(submission.SimilarSubmissions))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal similar submissions: %w", err)
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO submissions (id, assignment_id, student_id, student_name, comment, grade,
				is_plagiarized, similar_submissions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			submission.ID,
			submission.AssignmentID,
			submission.StudentID,
			submission.StudentName,
			submission.Comment,
			nullFloat(submission.Grade),
			submission.IsPlagiarized,
			similar,
			submission.CreatedAt,
			submission.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert submission: %w", err)
		}

		for _, hash := range uniqueContentHashes(submission) {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO assignment_content_hashes (assignment_id, content_hash, submission_id)
				VALUES ($1, $2, $3)
			`, submission.AssignmentID, hash, submission.ID)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicateContent
				}
				return fmt.Errorf("failed to claim content hash: %w", err)
			}
		}

		pageStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO submission_page_hashes (submission_id, assignment_id, attachment_position, page_number, hash)
			VALUES ($1, $2, $3, $4, $5)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare page hash insert: %w", err)
		}
		defer pageStmt.Close()

		for position, attachment := range submission.Attachments {
			pageHashes, err := json.Marshal(nonNilPageHashes(attachment.PageHashes))
			if err != nil {
				return fmt.Errorf("failed to marshal page hashes: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO submission_attachments (submission_id, position, filename, url, object_key,
					mime_type, size, content_hash, page_hashes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				submission.ID,
				position,
				attachment.Filename,
				attachment.URL,
				attachment.ObjectKey,
				attachment.MimeType,
				attachment.Size,
				attachment.ContentHash,
				pageHashes,
			)
			if err != nil {
				return fmt.Errorf("failed to insert attachment: %w", err)
			}

			for _, ph := range attachment.PageHashes {
				if _, err := pageStmt.ExecContext(ctx, submission.ID, submission.AssignmentID, position, ph.PageNumber, ph.Hash); err != nil {
					return fmt.Errorf("failed to insert page hash: %w", err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("submission_id", submission.ID).
		Str("assignment_id", submission.AssignmentID).
		Int("attachments", len(submission.Attachments)).
		Msg("Submission inserted")

	return submission, nil
}

func (r *postgresSubmissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	submissions, err := r.loadSubmissions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(submissions) == 0 {
		return nil, ErrNotFound
	}

	return &submissions[0], nil
}

func (r *postgresSubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) ([]models.Submission, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE assignment_id = $1`, assignmentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	query := `
		SELECT id FROM submissions
		WHERE assignment_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	ids, err := r.queryIDs(ctx, query, assignmentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list submissions: %w", err)
	}

	submissions, err := r.loadSubmissions(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	// loadSubmissions returns oldest first
	for i, j := 0, len(submissions)-1; i < j; i, j = i+1, j-1 {
		submissions[i], submissions[j] = submissions[j], submissions[i]
	}

	return submissions, total, nil
}

func (r *postgresSubmissionRepository) UpdateGrade(ctx context.Context, id string, grade float64, comment *string) (*models.Submission, error) {
	var commentArg sql.NullString
	if comment != nil {
		commentArg = sql.NullString{String: *comment, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE submissions
		SET grade = $2, comment = COALESCE($3, comment), updated_at = $4
		WHERE id = $1
	`, id, grade, commentArg, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update grade: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return nil, ErrNotFound
	}

	return r.GetByID(ctx, id)
}

func (r *postgresSubmissionRepository) SaveSimilarity(ctx context.Context, id string, records []models.SimilarSubmissionRecord, isPlagiarized bool) error {
	payload, err := json.Marshal(nonNilRecords(records))
	if err != nil {
		return fmt.Errorf("failed to marshal similar submissions: %w", err)
	}

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE submissions
		SET similar_submissions = $2, is_plagiarized = $3, scored_at = $4, updated_at = $4
		WHERE id = $1
	`, id, payload, isPlagiarized, now)
	if err != nil {
		return fmt.Errorf("failed to save similarity report: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *postgresSubmissionRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// loadSubmissions fetches full submissions for ids ordered by creation time
// and id ascending.
func (r *postgresSubmissionRepository) loadSubmissions(ctx context.Context, ids []string) ([]models.Submission, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE id = ANY($1::uuid[])
		ORDER BY created_at ASC, id ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}
	defer rows.Close()

	var submissions []models.Submission
	index := make(map[string]int, len(ids))
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		index[s.ID] = len(submissions)
		submissions = append(submissions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}

	attRows, err := r.db.QueryContext(ctx, `
		SELECT submission_id, filename, url, object_key, mime_type, size, content_hash, page_hashes
		FROM submission_attachments
		WHERE submission_id = ANY($1::uuid[])
		ORDER BY submission_id, position
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments: %w", err)
	}
	defer attRows.Close()

	for attRows.Next() {
		var (
			submissionID string
			a            models.Attachment
			pageHashes   []byte
		)
		if err := attRows.Scan(
			&submissionID,
			&a.Filename,
			&a.URL,
			&a.ObjectKey,
			&a.MimeType,
			&a.Size,
			&a.ContentHash,
			&pageHashes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		if err := json.Unmarshal(pageHashes, &a.PageHashes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page hashes: %w", err)
		}

		if i, ok := index[submissionID]; ok {
			submissions[i].Attachments = append(submissions[i].Attachments, a)
		}
	}
	if err := attRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}

	return submissions, nil
}

func scanSubmission(rows *sql.Rows) (*models.Submission, error) {
	var (
		s        models.Submission
		grade    sql.NullFloat64
		similar  []byte
		scoredAt sql.NullTime
	)

	if err := rows.Scan(
		&s.ID,
		&s.AssignmentID,
		&s.StudentID,
		&s.StudentName,
		&s.Comment,
		&grade,
		&s.IsPlagiarized,
		&similar,
		&scoredAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if grade.Valid {
		s.Grade = &grade.Float64
	}
	if scoredAt.Valid {
		s.ScoredAt = &scoredAt.Time
	}
	if len(similar) > 0 {
		if err := json.Unmarshal(similar, &s.SimilarSubmissions); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNilRecords(records []models.SimilarSubmissionRecord) []models.SimilarSubmissionRecord {
	if records == nil {
		return []models.SimilarSubmissionRecord{}
	}
	return records
}

func nonNilPageHashes(hashes []models.PageHash) []models.PageHash {
	if hashes == nil {
		return []models.PageHash{}
	}
	return hashes
}
