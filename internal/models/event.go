package models

import "time"

const (
	EventSubmissionAccepted = "submission.accepted"
	EventSimilarityScored   = "similarity.scored"
)

type SubmissionAcceptedEvent struct {
	Type         string    `json:"type"`
	SubmissionID string    `json:"submission_id"`
	AssignmentID string    `json:"assignment_id"`
	StudentID    string    `json:"student_id"`
	Timestamp    time.Time `json:"timestamp"`
}

type SimilarityScoredEvent struct {
	Type          string    `json:"type"`
	SubmissionID  string    `json:"submission_id"`
	AssignmentID  string    `json:"assignment_id"`
	IsPlagiarized bool      `json:"is_plagiarized"`
	MatchCount    int       `json:"match_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// Stage tracks a submission attempt through the pipeline for logging.
type Stage string

const (
	StageReceived       Stage = "received"
	StageExtracted      Stage = "extracted"
	StageHashed         Stage = "hashed"
	StageDuplicateCheck Stage = "duplicate_checked"
	StagePersisted      Stage = "persisted"
	StageRejected       Stage = "rejected"
	StageScored         Stage = "scored"
)
