package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/detector"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/extractor"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/hashing"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/lock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const cleanupTimeout = 30 * time.Second

// ScoreDispatcher schedules similarity scoring of an accepted submission.
type ScoreDispatcher interface {
	Dispatch(ctx context.Context, event models.SubmissionAcceptedEvent) error
}

type SubmissionService interface {
	Submit(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResult, error)
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) (*models.SubmissionListResponse, error)
	Grade(ctx context.Context, id string, req *models.GradeRequest) (*models.Submission, error)
	GetSimilarityReport(ctx context.Context, id string) (*models.SimilarityReport, error)
	Rescore(ctx context.Context, id string) error
}

type Config struct {
	MaxFileSize  int64
	MaxFiles     int
	AllowedTypes []string
	LockTimeout  time.Duration
}

type submissionService struct {
	repo       repository.SubmissionRepository
	storage    repository.ObjectStorage
	extractor  extractor.Extractor
	detector   detector.DuplicateDetector
	locker     lock.Locker
	dispatcher ScoreDispatcher
	config     Config
	logger     zerolog.Logger
}

func NewSubmissionService(
	repo repository.SubmissionRepository,
	storage repository.ObjectStorage,
	ext extractor.Extractor,
	det detector.DuplicateDetector,
	locker lock.Locker,
	dispatcher ScoreDispatcher,
	config Config,
	logger zerolog.Logger,
) SubmissionService {
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = extractor.AllowedTypes
	}

	return &submissionService{
		repo:       repo,
		storage:    storage,
		extractor:  ext,
		detector:   det,
		locker:     locker,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
	}
}

func (s *submissionService) Submit(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	log := s.logger.With().
		Str("assignment_id", req.AssignmentID).
		Str("student_id", req.StudentID).
		Logger()

	log.Info().
		Str("stage", string(models.StageReceived)).
		Int("file_count", len(req.Files)).
		Msg("Submission received")

	attachments, err := s.fingerprint(ctx, req.Files)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("stage", string(models.StageHashed)).Msg("Attachments fingerprinted")

	release, err := s.lock(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}

	submission, rejection, err := func() (*models.Submission, *models.Rejection, error) {
		defer release()
		return s.admit(ctx, req, attachments, log)
	}()
	if err != nil {
		return nil, err
	}

	if rejection != nil {
		log.Info().
			Str("stage", string(models.StageRejected)).
			Str("filename", rejection.Filename).
			Str("reason", rejection.Message).
			Msg("Submission rejected")

		return &models.SubmitResult{
			Accepted:  false,
			Message:   rejection.Message,
			Rejection: rejection,
		}, nil
	}

	log.Info().
		Str("stage", string(models.StagePersisted)).
		Str("submission_id", submission.ID).
		Msg("Submission accepted")

	s.dispatch(ctx, submission)

	return &models.SubmitResult{
		Accepted:   true,
		Message:    models.MessageSubmitted,
		Submission: submission,
	}, nil
}

func (s *submissionService) validate(req *models.SubmitRequest) error {
	if req == nil || strings.TrimSpace(req.AssignmentID) == "" || strings.TrimSpace(req.StudentID) == "" {
		return fmt.Errorf("%w: assignment and student are required", ErrInvalidRequest)
	}

	if len(req.Files) == 0 {
		return ErrNoFiles
	}
	if len(req.Files) > s.config.MaxFiles {
		return fmt.Errorf("%w: at most %d files are allowed", ErrTooManyFiles, s.config.MaxFiles)
	}

	for i := range req.Files {
		f := &req.Files[i]

		if int64(len(f.Content)) > s.config.MaxFileSize {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, f.Filename, s.config.MaxFileSize)
		}

		f.MimeType = extractor.DetectMimeType(f.Filename, f.MimeType)
		if !extractor.IsAllowed(f.MimeType, f.Filename, s.config.AllowedTypes) {
			return fmt.Errorf("%w: %s (%s)", ErrUnsupportedFileType, f.Filename, f.MimeType)
		}
	}

	return nil
}

// fingerprint extracts and hashes every file concurrently. The result keeps
// the upload order.
func (s *submissionService) fingerprint(ctx context.Context, files []models.UploadedFile) ([]models.Attachment, error) {
	attachments := make([]models.Attachment, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		f := files[i]
		g.Go(func() error {
			pages := s.extractor.Extract(gctx, f.Content, f.MimeType)
			pageHashes, contentHash := hashing.Fingerprint(pages)

			attachments[i] = models.Attachment{
				Filename:    f.Filename,
				MimeType:    f.MimeType,
				Size:        int64(len(f.Content)),
				PageHashes:  pageHashes,
				ContentHash: contentHash,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Extraction falls back instead of failing, so a cancelled request is
	// only visible here.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return attachments, nil
}

func (s *submissionService) lock(ctx context.Context, assignmentID string) (func(), error) {
	lockCtx := ctx
	if s.config.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.config.LockTimeout)
		defer cancel()
	}

	release, err := s.locker.Lock(lockCtx, assignmentID)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("failed to lock assignment: %w", err)
	}
	return release, nil
}

// admit runs the duplicate gate and persists the submission. It must be
// called while holding the assignment lock.
func (s *submissionService) admit(
	ctx context.Context,
	req *models.SubmitRequest,
	attachments []models.Attachment,
	log zerolog.Logger,
) (*models.Submission, *models.Rejection, error) {
	if rejection, err := s.detect(ctx, req, attachments); err != nil || rejection != nil {
		return nil, rejection, err
	}

	log.Debug().Str("stage", string(models.StageDuplicateCheck)).Msg("Duplicate gate passed")

	submissionID := uuid.New().String()
	uploaded, err := s.upload(ctx, req.AssignmentID, submissionID, req.Files, attachments)
	if err != nil {
		return nil, nil, err
	}

	studentName := strings.TrimSpace(req.StudentName)
	if studentName == "" {
		studentName = req.StudentID
	}

	saved, err := s.repo.Insert(ctx, &models.Submission{
		ID:           submissionID,
		AssignmentID: req.AssignmentID,
		StudentID:    req.StudentID,
		StudentName:  studentName,
		Attachments:  attachments,
		Comment:      req.Comment,
	})
	if err == nil {
		return saved, nil, nil
	}

	s.cleanup(ctx, uploaded)

	if errors.Is(err, repository.ErrDuplicateContent) {
		// Another writer claimed the content between the gate and the insert.
		rejection, detectErr := s.detect(ctx, req, attachments)
		if detectErr != nil {
			return nil, nil, detectErr
		}
		if rejection != nil {
			return nil, rejection, nil
		}
	}

	log.Error().Err(err).Str("submission_id", submissionID).Msg("Failed to persist submission")
	return nil, nil, fmt.Errorf("failed to persist submission: %w", err)
}

func (s *submissionService) detect(ctx context.Context, req *models.SubmitRequest, attachments []models.Attachment) (*models.Rejection, error) {
	result, idx, err := s.detector.CheckAll(ctx, req.AssignmentID, attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to run duplicate detection: %w", err)
	}
	if idx < 0 {
		return nil, nil
	}
	return result.Rejection(attachments[idx].Filename), nil
}

// upload stores every attachment and fills in its object key and URL. On
// failure the objects already written are removed.
func (s *submissionService) upload(
	ctx context.Context,
	assignmentID, submissionID string,
	files []models.UploadedFile,
	attachments []models.Attachment,
) ([]string, error) {
	keys := make([]string, 0, len(files))

	for i, f := range files {
		key := repository.GenerateObjectKey(assignmentID, submissionID, f.Filename)

		url, err := s.storage.Upload(ctx, key, f.MimeType, f.Content)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("submission_id", submissionID).
				Str("filename", f.Filename).
				Msg("Failed to upload attachment")

			s.cleanup(ctx, keys)
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageUpload, f.Filename, err)
		}

		keys = append(keys, key)
		attachments[i].ObjectKey = key
		attachments[i].URL = url
	}

	return keys, nil
}

func (s *submissionService) cleanup(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			s.logger.Error().Err(err).Str("object_key", key).Msg("Failed to delete orphaned attachment")
		}
	}
}

func (s *submissionService) dispatch(ctx context.Context, submission *models.Submission) {
	event := models.SubmissionAcceptedEvent{
		Type:         models.EventSubmissionAccepted,
		SubmissionID: submission.ID,
		AssignmentID: submission.AssignmentID,
		StudentID:    submission.StudentID,
		Timestamp:    time.Now().UTC(),
	}

	// Scoring is informational. The submission stays accepted and can be
	// rescored later.
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("submission_id", submission.ID).
			Msg("Failed to schedule similarity scoring")
	}
}

func (s *submissionService) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSubmissionNotFound
	}

	submission, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	return submission, nil
}

func (s *submissionService) ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) (*models.SubmissionListResponse, error) {
	if strings.TrimSpace(assignmentID) == "" {
		return nil, fmt.Errorf("%w: assignment is required", ErrInvalidRequest)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	submissions, total, err := s.repo.ListByAssignment(ctx, assignmentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	if submissions == nil {
		submissions = []models.Submission{}
	}

	return &models.SubmissionListResponse{
		AssignmentID: assignmentID,
		Submissions:  submissions,
		Total:        total,
	}, nil
}

func (s *submissionService) Grade(ctx context.Context, id string, req *models.GradeRequest) (*models.Submission, error) {
	if req == nil || math.IsNaN(req.Grade) || req.Grade < 0 || req.Grade > 100 {
		return nil, ErrInvalidGrade
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSubmissionNotFound
	}

	submission, err := s.repo.UpdateGrade(ctx, id, req.Grade, req.Comment)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to grade submission: %w", err)
	}

	s.logger.Info().
		Str("submission_id", id).
		Float64("grade", req.Grade).
		Msg("Submission graded")

	return submission, nil
}

func (s *submissionService) GetSimilarityReport(ctx context.Context, id string) (*models.SimilarityReport, error) {
	submission, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	if submission.ScoredAt == nil {
		return nil, ErrReportPending
	}

	records := submission.SimilarSubmissions
	if records == nil {
		records = []models.SimilarSubmissionRecord{}
	}

	return &models.SimilarityReport{
		SubmissionID:       submission.ID,
		AssignmentID:       submission.AssignmentID,
		IsPlagiarized:      submission.IsPlagiarized,
		SimilarSubmissions: records,
		ScoredAt:           *submission.ScoredAt,
	}, nil
}

func (s *submissionService) Rescore(ctx context.Context, id string) error {
	submission, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}

	event := models.SubmissionAcceptedEvent{
		Type:         models.EventSubmissionAccepted,
		SubmissionID: submission.ID,
		AssignmentID: submission.AssignmentID,
		StudentID:    submission.StudentID,
		Timestamp:    time.Now().UTC(),
	}

	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		return fmt.Errorf("failed to schedule similarity scoring: %w", err)
	}

	return nil
}
