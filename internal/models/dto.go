package models

import "time"

type UploadedFile struct {
	Filename string
	MimeType string
	Content  []byte
}

type SubmitRequest struct {
	AssignmentID string
	StudentID    string
	StudentName  string
	Comment      string
	Files        []UploadedFile
}

type SubmitResult struct {
	Accepted   bool        `json:"accepted"`
	Message    string      `json:"message"`
	Submission *Submission `json:"submission,omitempty"`
	Rejection  *Rejection  `json:"rejection,omitempty"`
}

type GradeRequest struct {
	Grade   float64 `json:"grade"`
	Comment *string `json:"comment,omitempty"`
}

type SubmissionListResponse struct {
	AssignmentID string       `json:"assignment_id"`
	Submissions  []Submission `json:"submissions"`
	Total        int          `json:"total"`
}

type SimilarityReport struct {
	SubmissionID       string                    `json:"submission_id"`
	AssignmentID       string                    `json:"assignment_id"`
	IsPlagiarized      bool                      `json:"is_plagiarized"`
	SimilarSubmissions []SimilarSubmissionRecord `json:"similar_submissions"`
	ScoredAt           time.Time                 `json:"scored_at"`
}
