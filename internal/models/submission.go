package models

import "time"

// Page is one unit of extracted text. PageNumber starts at 1 and is assigned
// by the extractor, so it may skip values for PDFs with blank pages.
type Page struct {
	PageNumber int    `json:"pageNumber"`
	Content    string `json:"content"`
}

type PageHash struct {
	PageNumber int    `json:"pageNumber" bson:"pageNumber"`
	Hash       string `json:"hash" bson:"hash"`
}

type Attachment struct {
	Filename    string     `json:"filename" bson:"filename"`
	URL         string     `json:"url" bson:"url"`
	ObjectKey   string     `json:"-" bson:"objectKey"`
	MimeType    string     `json:"mimeType" bson:"mimeType"`
	Size        int64      `json:"size" bson:"size"`
	PageHashes  []PageHash `json:"pageHashes" bson:"pageHashes"`
	ContentHash string     `json:"contentHash" bson:"contentHash"`
}

type Submission struct {
	ID                 string                    `json:"id" bson:"_id"`
	AssignmentID       string                    `json:"assignmentId" bson:"assignmentId"`
	StudentID          string                    `json:"studentId" bson:"studentId"`
	StudentName        string                    `json:"studentName" bson:"studentName"`
	Attachments        []Attachment              `json:"attachments" bson:"attachments"`
	Comment            string                    `json:"comment" bson:"comment"`
	Grade              *float64                  `json:"grade,omitempty" bson:"grade,omitempty"`
	IsPlagiarized      bool                      `json:"isPlagiarized" bson:"isPlagiarized"`
	SimilarSubmissions []SimilarSubmissionRecord `json:"similarSubmissions" bson:"similarSubmissions"`
	ScoredAt           *time.Time                `json:"scoredAt,omitempty" bson:"scoredAt,omitempty"`
	CreatedAt          time.Time                 `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time                 `json:"updatedAt" bson:"updatedAt"`
}

type MatchedPage struct {
	SourcePageNumber int    `json:"sourcePageNumber" bson:"sourcePageNumber"`
	TargetPageNumber int    `json:"targetPageNumber" bson:"targetPageNumber"`
	Hash             string `json:"hash" bson:"hash"`
}

type SimilarSubmissionRecord struct {
	SubmissionID    string        `json:"submissionId" bson:"submissionId"`
	MatchPercentage float64       `json:"matchPercentage" bson:"matchPercentage"`
	ContentMatches  int           `json:"contentMatches" bson:"contentMatches"`
	MatchedPages    []MatchedPage `json:"matchedPages" bson:"matchedPages"`
}

// PageHashCount sums the page hashes of every attachment.
func (s *Submission) PageHashCount() int {
	total := 0
	for _, a := range s.Attachments {
		total += len(a.PageHashes)
	}
	return total
}

// DistinctPageHashes returns every page hash of the submission once, in first-seen order.
func (s *Submission) DistinctPageHashes() []string {
	seen := make(map[string]struct{})
	var hashes []string
	for _, a := range s.Attachments {
		for _, ph := range a.PageHashes {
			if _, ok := seen[ph.Hash]; ok {
				continue
			}
			seen[ph.Hash] = struct{}{}
			hashes = append(hashes, ph.Hash)
		}
	}
	return hashes
}

// ContentHashes returns the distinct attachment content hashes.
func (s *Submission) ContentHashes() []string {
	seen := make(map[string]struct{})
	var hashes []string
	for _, a := range s.Attachments {
		if _, ok := seen[a.ContentHash]; ok {
			continue
		}
		seen[a.ContentHash] = struct{}{}
		hashes = append(hashes, a.ContentHash)
	}
	return hashes
}
