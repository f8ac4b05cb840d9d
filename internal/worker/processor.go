package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/scorer"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/worker/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ProcessorConfig struct {
	Timeout          time.Duration
	ScoredRoutingKey string
}

// Processor scores one accepted submission and announces the result when a
// publisher is configured.
type Processor struct {
	scorer    scorer.SimilarityScorer
	publisher queue.RabbitMQPublisher
	config    ProcessorConfig
	logger    zerolog.Logger
}

func NewProcessor(s scorer.SimilarityScorer, publisher queue.RabbitMQPublisher, config ProcessorConfig, logger zerolog.Logger) *Processor {
	return &Processor{
		scorer:    s,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

func (p *Processor) Process(ctx context.Context, event models.SubmissionAcceptedEvent) error {
	if strings.TrimSpace(event.SubmissionID) == "" {
		return permanent(errors.New("empty submission_id"))
	}
	if _, err := uuid.Parse(event.SubmissionID); err != nil {
		return permanent(fmt.Errorf("invalid submission_id %q: %w", event.SubmissionID, err))
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	report, err := p.scorer.Score(ctx, event.SubmissionID)
	if err != nil {
		if errors.Is(err, scorer.ErrSubmissionNotFound) {
			return permanent(fmt.Errorf("submission %s: %w", event.SubmissionID, err))
		}
		return fmt.Errorf("failed to score submission: %w", err)
	}

	p.logger.Info().
		Str("submission_id", report.SubmissionID).
		Str("stage", string(models.StageScored)).
		Bool("is_plagiarized", report.IsPlagiarized).
		Int("similar_submissions", len(report.SimilarSubmissions)).
		Msg("Submission scored")

	if p.publisher == nil {
		return nil
	}

	scored := models.SimilarityScoredEvent{
		Type:          models.EventSimilarityScored,
		SubmissionID:  report.SubmissionID,
		AssignmentID:  report.AssignmentID,
		IsPlagiarized: report.IsPlagiarized,
		MatchCount:    len(report.SimilarSubmissions),
		Timestamp:     time.Now().UTC(),
	}

	// The report is already stored; a lost notification is not retried.
	if err := p.publisher.PublishJSON(ctx, p.config.ScoredRoutingKey, scored); err != nil {
		p.logger.Error().Err(err).Str("submission_id", report.SubmissionID).Msg("Failed to publish scored event")
	}

	return nil
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
