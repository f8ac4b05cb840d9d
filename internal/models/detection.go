package models

import "time"

const (
	MessageDuplicate       = "Duplicate assignment detected"
	MessagePartialMatch    = "Partial plagiarism detected"
	MessageSubmitted       = "Assignment submitted successfully"
	MessageGraded          = "Submission graded successfully"
	MessageRescoreAccepted = "Similarity scoring scheduled"
)

type DuplicatePage struct {
	PageNumber  int    `json:"pageNumber"`
	StudentName string `json:"studentName"`
}

type OriginalSubmission struct {
	SubmissionID   string    `json:"submissionId"`
	StudentName    string    `json:"studentName"`
	SubmissionDate time.Time `json:"submissionDate"`
}

// DetectionResult is the outcome of the duplicate gate for one attachment.
type DetectionResult struct {
	IsDuplicate        bool
	PartialMatch       bool
	MatchPercentage    float64
	DuplicatePages     []DuplicatePage
	OriginalSubmission *OriginalSubmission
}

type RejectionDetails struct {
	MatchPercentage    *float64            `json:"matchPercentage,omitempty"`
	DuplicatePages     []DuplicatePage     `json:"duplicatePages,omitempty"`
	OriginalSubmission *OriginalSubmission `json:"originalSubmission,omitempty"`
}

type Rejection struct {
	Message  string           `json:"message"`
	Filename string           `json:"filename,omitempty"`
	Details  RejectionDetails `json:"details"`
}

// Rejection renders a positive result into the response body shown to the
// student. It returns nil when the result is not a duplicate.
func (r *DetectionResult) Rejection(filename string) *Rejection {
	if r == nil || !r.IsDuplicate {
		return nil
	}

	if r.PartialMatch {
		pct := r.MatchPercentage
		return &Rejection{
			Message:  MessagePartialMatch,
			Filename: filename,
			Details: RejectionDetails{
				MatchPercentage: &pct,
				DuplicatePages:  r.DuplicatePages,
			},
		}
	}

	return &Rejection{
		Message:  MessageDuplicate,
		Filename: filename,
		Details: RejectionDetails{
			OriginalSubmission: r.OriginalSubmission,
		},
	}
}
