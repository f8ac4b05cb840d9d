package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/detector"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/extractor"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/extractor/extractortest"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/hashing"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/lock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// formFeedExtractor treats every form feed as a page break.
type formFeedExtractor struct{}

func (formFeedExtractor) Extract(ctx context.Context, data []byte, mimeType string) []models.Page {
	parts := strings.Split(string(data), "\f")
	pages := make([]models.Page, len(parts))
	for i, p := range parts {
		pages[i] = models.Page{PageNumber: i + 1, Content: p}
	}
	return pages
}

type memoryStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	deleted  []string
	failOn   int
	uploads  int
	failWith error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (s *memoryStorage) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploads++
	if s.failOn > 0 && s.uploads == s.failOn {
		return "", s.failWith
	}
	s.objects[key] = data
	return "/files/" + key, nil
}

func (s *memoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.objects[key]
	return ok, nil
}

func (s *memoryStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.SubmissionAcceptedEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event models.SubmissionAcceptedEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) dispatched() []models.SubmissionAcceptedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.SubmissionAcceptedEvent(nil), d.events...)
}

type failingInsertRepo struct {
	repository.SubmissionRepository
	err error
}

func (r *failingInsertRepo) Insert(ctx context.Context, s *models.Submission) (*models.Submission, error) {
	return nil, r.err
}

// noLock lets concurrent submissions race to the repository.
type noLock struct{}

func (noLock) Lock(ctx context.Context, key string) (func(), error) { return func() {}, nil }

type fixture struct {
	repo        repository.SubmissionRepository
	storage     *memoryStorage
	dispatcher  *recordingDispatcher
	extractor   extractor.Extractor
	maxFileSize int64
	service     SubmissionService
}

func newFixture(t *testing.T, opts ...func(*fixture, *lock.Locker)) *fixture {
	t.Helper()

	f := &fixture{
		repo:        repository.NewMemorySubmissionRepository(),
		storage:     newMemoryStorage(),
		dispatcher:  &recordingDispatcher{},
		extractor:   formFeedExtractor{},
		maxFileSize: 1024,
	}
	locker := lock.NewKeyedMutex()
	for _, opt := range opts {
		opt(f, &locker)
	}

	det := detector.NewDuplicateDetector(f.repo, detector.Config{SkipBlankPages: true}, zerolog.Nop())
	f.service = NewSubmissionService(
		f.repo,
		f.storage,
		f.extractor,
		det,
		locker,
		f.dispatcher,
		Config{
			MaxFileSize:  f.maxFileSize,
			MaxFiles:     5,
			AllowedTypes: extractor.AllowedTypes,
			LockTimeout:  time.Second,
		},
		zerolog.Nop(),
	)
	return f
}

// withDocumentExtractor swaps the form feed fake for the real extractor.
func withDocumentExtractor(f *fixture, _ *lock.Locker) {
	f.extractor = extractor.New(extractor.Config{}, zerolog.Nop())
	f.maxFileSize = 64 * 1024
}

func pdfRequest(student string, pages ...string) *models.SubmitRequest {
	return &models.SubmitRequest{
		AssignmentID: "assignment-1",
		StudentID:    student,
		StudentName:  strings.ToUpper(student),
		Files: []models.UploadedFile{{
			Filename: student + ".pdf",
			MimeType: extractor.MimePDF,
			Content:  extractortest.PDF(pages...),
		}},
	}
}

func submitRequest(student string, contents ...string) *models.SubmitRequest {
	req := &models.SubmitRequest{
		AssignmentID: "assignment-1",
		StudentID:    student,
		StudentName:  strings.ToUpper(student),
		Comment:      "done",
	}
	for i, c := range contents {
		req.Files = append(req.Files, models.UploadedFile{
			Filename: student + "-" + string(rune('a'+i)) + ".txt",
			MimeType: "text/plain",
			Content:  []byte(c),
		})
	}
	return req
}

func TestSubmitAcceptsAndDispatches(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Submit(context.Background(), submitRequest("alice", "intro\fbody"))
	require.NoError(t, err)

	require.True(t, result.Accepted)
	assert.Equal(t, models.MessageSubmitted, result.Message)
	require.NotNil(t, result.Submission)

	sub := result.Submission
	assert.Equal(t, "ALICE", sub.StudentName)
	require.Len(t, sub.Attachments, 1)
	assert.Len(t, sub.Attachments[0].PageHashes, 2)
	assert.NotEmpty(t, sub.Attachments[0].ContentHash)
	assert.True(t, strings.HasPrefix(sub.Attachments[0].URL, "/files/submissions/assignment-1/"+sub.ID+"/"))
	assert.Equal(t, 1, f.storage.count())

	events := f.dispatcher.dispatched()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSubmissionAccepted, events[0].Type)
	assert.Equal(t, sub.ID, events[0].SubmissionID)
}

func TestSubmitRejectsExactDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Submit(ctx, submitRequest("alice", "intro\fbody"))
	require.NoError(t, err)
	require.True(t, first.Accepted)

	second, err := f.service.Submit(ctx, submitRequest("bob", "intro\fbody"))
	require.NoError(t, err)

	assert.False(t, second.Accepted)
	assert.Nil(t, second.Submission)
	require.NotNil(t, second.Rejection)
	assert.Equal(t, models.MessageDuplicate, second.Rejection.Message)
	assert.Equal(t, "bob-a.txt", second.Rejection.Filename)
	require.NotNil(t, second.Rejection.Details.OriginalSubmission)
	assert.Equal(t, first.Submission.ID, second.Rejection.Details.OriginalSubmission.SubmissionID)
	assert.Equal(t, "ALICE", second.Rejection.Details.OriginalSubmission.StudentName)

	list, err := f.service.ListByAssignment(ctx, "assignment-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 1, f.storage.count())
	assert.Len(t, f.dispatcher.dispatched(), 1)
}

func TestSubmitRejectsPartialMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, submitRequest("alice", "intro\fbody"))
	require.NoError(t, err)

	result, err := f.service.Submit(ctx, submitRequest("bob", "intro\fsomething else"))
	require.NoError(t, err)

	assert.False(t, result.Accepted)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, models.MessagePartialMatch, result.Rejection.Message)
	require.NotNil(t, result.Rejection.Details.MatchPercentage)
	assert.InDelta(t, 50.0, *result.Rejection.Details.MatchPercentage, 1e-9)
	assert.Equal(t, []models.DuplicatePage{{PageNumber: 1, StudentName: "ALICE"}}, result.Rejection.Details.DuplicatePages)
}

func TestSubmitPDFWithExtraBlankPageIsExactDuplicate(t *testing.T) {
	f := newFixture(t, withDocumentExtractor)
	ctx := context.Background()

	first, err := f.service.Submit(ctx, pdfRequest("alice", "Introduction", "Conclusion"))
	require.NoError(t, err)
	require.True(t, first.Accepted)
	assert.Equal(t, []models.PageHash{
		{PageNumber: 1, Hash: hashing.PageHash("Introduction")},
		{PageNumber: 2, Hash: hashing.PageHash("Conclusion")},
	}, first.Submission.Attachments[0].PageHashes)

	second, err := f.service.Submit(ctx, pdfRequest("bob", "Introduction", "", "Conclusion"))
	require.NoError(t, err)

	assert.False(t, second.Accepted)
	require.NotNil(t, second.Rejection)
	assert.Equal(t, models.MessageDuplicate, second.Rejection.Message)
	assert.Equal(t, "bob.pdf", second.Rejection.Filename)
	require.NotNil(t, second.Rejection.Details.OriginalSubmission)
	assert.Equal(t, "ALICE", second.Rejection.Details.OriginalSubmission.StudentName)
	assert.Equal(t, 1, f.storage.count())
}

func TestSubmitPDFSharingAPageIsPartialMatch(t *testing.T) {
	f := newFixture(t, withDocumentExtractor)
	ctx := context.Background()

	first, err := f.service.Submit(ctx, pdfRequest("alice", "Shared findings", "Alice analysis"))
	require.NoError(t, err)
	require.True(t, first.Accepted)

	second, err := f.service.Submit(ctx, pdfRequest("bob", "Bob opening", "", "Shared findings"))
	require.NoError(t, err)

	assert.False(t, second.Accepted)
	require.NotNil(t, second.Rejection)
	assert.Equal(t, models.MessagePartialMatch, second.Rejection.Message)
	assert.Equal(t, []models.DuplicatePage{{PageNumber: 1, StudentName: "ALICE"}}, second.Rejection.Details.DuplicatePages)
	require.NotNil(t, second.Rejection.Details.MatchPercentage)
	assert.InDelta(t, 50.0, *second.Rejection.Details.MatchPercentage, 1e-9)
}

func TestSubmitRejectsWhenAnyAttachmentIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, submitRequest("alice", "original work"))
	require.NoError(t, err)

	result, err := f.service.Submit(ctx, submitRequest("bob", "my own work", "original work"))
	require.NoError(t, err)

	assert.False(t, result.Accepted)
	assert.Equal(t, "bob-b.txt", result.Rejection.Filename)
	assert.Equal(t, 1, f.storage.uploads)
}

func TestSubmitAcceptsDistinctWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, submitRequest("alice", "intro\fbody"))
	require.NoError(t, err)

	// Same text under another assignment and new text under the same one.
	other := submitRequest("bob", "intro\fbody")
	other.AssignmentID = "assignment-2"
	result, err := f.service.Submit(ctx, other)
	require.NoError(t, err)
	assert.True(t, result.Accepted)

	result, err = f.service.Submit(ctx, submitRequest("carol", "Intro\fBody"))
	require.NoError(t, err)
	assert.True(t, result.Accepted)
}

func TestSubmitConcurrentIdenticalSubmissions(t *testing.T) {
	lockers := map[string]func(*fixture, *lock.Locker){
		"keyed mutex": func(*fixture, *lock.Locker) {},
		"repository constraint only": func(_ *fixture, l *lock.Locker) {
			*l = noLock{}
		},
	}

	for name, opt := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, opt)

			const writers = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				accepted int
				rejected int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()

					result, err := f.service.Submit(context.Background(), submitRequest("student"+string(rune('a'+i)), "same essay"))
					if !assert.NoError(t, err) {
						return
					}

					mu.Lock()
					defer mu.Unlock()
					if result.Accepted {
						accepted++
					} else {
						rejected++
						assert.Equal(t, models.MessageDuplicate, result.Message)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, 1, accepted)
			assert.Equal(t, writers-1, rejected)
			assert.Equal(t, 1, f.storage.count())
		})
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     func() *models.SubmitRequest
		wantErr error
	}{
		{
			name:    "no files",
			req:     func() *models.SubmitRequest { return submitRequest("alice") },
			wantErr: ErrNoFiles,
		},
		{
			name:    "too many files",
			req:     func() *models.SubmitRequest { return submitRequest("alice", "1", "2", "3", "4", "5", "6") },
			wantErr: ErrTooManyFiles,
		},
		{
			name:    "file too large",
			req:     func() *models.SubmitRequest { return submitRequest("alice", strings.Repeat("x", 1025)) },
			wantErr: ErrFileTooLarge,
		},
		{
			name: "unsupported type",
			req: func() *models.SubmitRequest {
				req := submitRequest("alice", "MZ")
				req.Files[0].Filename = "tool.exe"
				req.Files[0].MimeType = "application/x-msdownload"
				return req
			},
			wantErr: ErrUnsupportedFileType,
		},
		{
			name: "missing student",
			req: func() *models.SubmitRequest {
				req := submitRequest("alice", "text")
				req.StudentID = ""
				return req
			},
			wantErr: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.service.Submit(context.Background(), tt.req())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.storage.uploads)
		})
	}
}

func TestSubmitInfersMimeTypeFromExtension(t *testing.T) {
	f := newFixture(t)

	req := submitRequest("alice", "notes")
	req.Files[0].MimeType = "application/octet-stream"

	result, err := f.service.Submit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Accepted)
	assert.Equal(t, extractor.MimeText, result.Submission.Attachments[0].MimeType)
}

func TestSubmitCleansUpFailedUpload(t *testing.T) {
	f := newFixture(t)
	f.storage.failOn = 2
	f.storage.failWith = errors.New("bucket unavailable")

	_, err := f.service.Submit(context.Background(), submitRequest("alice", "one", "two"))
	assert.ErrorIs(t, err, ErrStorageUpload)

	assert.Equal(t, 0, f.storage.count())
	assert.Len(t, f.storage.deleted, 1)

	list, err := f.service.ListByAssignment(context.Background(), "assignment-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
	assert.Empty(t, f.dispatcher.dispatched())
}

func TestSubmitCleansUpFailedInsert(t *testing.T) {
	f := newFixture(t, func(f *fixture, _ *lock.Locker) {
		f.repo = &failingInsertRepo{
			SubmissionRepository: repository.NewMemorySubmissionRepository(),
			err:                  errors.New("connection refused"),
		}
	})

	_, err := f.service.Submit(context.Background(), submitRequest("alice", "one", "two"))
	require.Error(t, err)

	assert.Equal(t, 0, f.storage.count())
	assert.Len(t, f.storage.deleted, 2)
	assert.Empty(t, f.dispatcher.dispatched())
}

func TestSubmitSurvivesDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("broker down")

	result, err := f.service.Submit(context.Background(), submitRequest("alice", "essay"))
	require.NoError(t, err)
	assert.True(t, result.Accepted)
}

func TestSubmitCancelledContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Submit(ctx, submitRequest("alice", "essay"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.storage.uploads)
}

func TestGrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Submit(ctx, submitRequest("alice", "essay"))
	require.NoError(t, err)
	id := result.Submission.ID

	comment := "well argued"
	graded, err := f.service.Grade(ctx, id, &models.GradeRequest{Grade: 87.5, Comment: &comment})
	require.NoError(t, err)
	require.NotNil(t, graded.Grade)
	assert.Equal(t, 87.5, *graded.Grade)
	assert.Equal(t, comment, graded.Comment)

	tests := []struct {
		name    string
		id      string
		grade   float64
		wantErr error
	}{
		{name: "negative", id: id, grade: -1, wantErr: ErrInvalidGrade},
		{name: "above 100", id: id, grade: 100.5, wantErr: ErrInvalidGrade},
		{name: "malformed id", id: "42", grade: 50, wantErr: ErrSubmissionNotFound},
		{name: "unknown id", id: uuid.New().String(), grade: 50, wantErr: ErrSubmissionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Grade(ctx, tt.id, &models.GradeRequest{Grade: tt.grade})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSimilarityReportAndRescore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Submit(ctx, submitRequest("alice", "essay"))
	require.NoError(t, err)
	id := result.Submission.ID

	_, err = f.service.GetSimilarityReport(ctx, id)
	assert.ErrorIs(t, err, ErrReportPending)

	records := []models.SimilarSubmissionRecord{{SubmissionID: "other", MatchPercentage: 100, ContentMatches: 1}}
	require.NoError(t, f.repo.SaveSimilarity(ctx, id, records, true))

	report, err := f.service.GetSimilarityReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, report.SubmissionID)
	assert.True(t, report.IsPlagiarized)
	assert.Len(t, report.SimilarSubmissions, 1)
	assert.False(t, report.ScoredAt.IsZero())

	require.NoError(t, f.service.Rescore(ctx, id))
	assert.Len(t, f.dispatcher.dispatched(), 2)

	assert.ErrorIs(t, f.service.Rescore(ctx, uuid.New().String()), ErrSubmissionNotFound)
}
