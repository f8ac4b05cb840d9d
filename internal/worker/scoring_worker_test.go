package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/scorer"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/worker/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scoredID  = uuid.NewString()
	otherID   = uuid.NewString()
	missingID = uuid.NewString()
)

type stubScorer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubScorer) Score(ctx context.Context, submissionID string) (*models.SimilarityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, submissionID)
	if s.err != nil {
		return nil, s.err
	}

	return &models.SimilarityReport{
		SubmissionID:  submissionID,
		AssignmentID:  "a1",
		IsPlagiarized: true,
		SimilarSubmissions: []models.SimilarSubmissionRecord{
			{SubmissionID: "other", MatchPercentage: 100},
		},
	}, nil
}

func (s *stubScorer) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type stubPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []interface{}
	err    error
}

func (p *stubPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	return p.PublishJSON(ctx, routingKey, json.RawMessage(body))
}

func (p *stubPublisher) PublishJSON(ctx context.Context, routingKey string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

type stubConsumer struct {
	msgs chan queue.RabbitMQMessage
}

func (c *stubConsumer) Consume(ctx context.Context) (<-chan queue.RabbitMQMessage, error) {
	return c.msgs, nil
}

func (c *stubConsumer) GetQueueLength() (int, error) { return len(c.msgs), nil }

func (c *stubConsumer) Close() error { return nil }

type outcome struct {
	acked   bool
	requeue bool
}

func newMessage(t *testing.T, body []byte, results chan<- outcome) queue.RabbitMQMessage {
	t.Helper()

	return queue.RabbitMQMessage{
		Body:      body,
		Timestamp: time.Now(),
		Ack: func(bool) error {
			results <- outcome{acked: true}
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			results <- outcome{requeue: requeue}
			return nil
		},
	}
}

func acceptedEvent(t *testing.T, id string) []byte {
	t.Helper()

	body, err := json.Marshal(models.SubmissionAcceptedEvent{
		Type:         models.EventSubmissionAccepted,
		SubmissionID: id,
		AssignmentID: "a1",
	})
	require.NoError(t, err)
	return body
}

func waitOutcome(t *testing.T, results <-chan outcome) outcome {
	t.Helper()

	select {
	case o := <-results:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("message was neither acked nor nacked")
		return outcome{}
	}
}

func TestScoringWorkerAcknowledgement(t *testing.T) {
	tests := []struct {
		name      string
		body      func(t *testing.T) []byte
		scoreErr  error
		wantAck   bool
		wantRetry bool
	}{
		{
			name:    "scored",
			body:    func(t *testing.T) []byte { return acceptedEvent(t, scoredID) },
			wantAck: true,
		},
		{
			name:    "malformed body is dropped",
			body:    func(t *testing.T) []byte { return []byte("{not json") },
			wantAck: true,
		},
		{
			name:    "missing submission id is dropped",
			body:    func(t *testing.T) []byte { return acceptedEvent(t, " ") },
			wantAck: true,
		},
		{
			name:     "unknown submission is dropped",
			body:     func(t *testing.T) []byte { return acceptedEvent(t, missingID) },
			scoreErr: scorer.ErrSubmissionNotFound,
			wantAck:  true,
		},
		{
			name:     "non uuid submission id is dropped",
			body:     func(t *testing.T) []byte { return acceptedEvent(t, "not-a-uuid") },
			scoreErr: errors.New("pq: invalid input syntax for type uuid"),
			wantAck:  true,
		},
		{
			name:      "transient failure is requeued",
			body:      func(t *testing.T) []byte { return acceptedEvent(t, scoredID) },
			scoreErr:  errors.New("connection reset"),
			wantRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			consumer := &stubConsumer{msgs: make(chan queue.RabbitMQMessage, 1)}
			processor := NewProcessor(&stubScorer{err: tt.scoreErr}, nil, ProcessorConfig{Timeout: time.Second}, zerolog.Nop())
			w := NewScoringWorker(NewWorkerPool(1, zerolog.Nop()), consumer, processor, zerolog.Nop())
			require.NoError(t, w.Start(ctx))

			results := make(chan outcome, 1)
			consumer.msgs <- newMessage(t, tt.body(t), results)

			got := waitOutcome(t, results)
			assert.Equal(t, tt.wantAck, got.acked)
			assert.Equal(t, tt.wantRetry, got.requeue)

			cancel()
			require.NoError(t, w.Stop())

			stats := w.GetStats()
			assert.Equal(t, 1, stats.TotalProcessed+stats.FailedJobs)
		})
	}
}

func TestProcessorPublishesScoredEvent(t *testing.T) {
	publisher := &stubPublisher{}
	processor := NewProcessor(&stubScorer{}, publisher, ProcessorConfig{ScoredRoutingKey: "similarity.scored"}, zerolog.Nop())

	err := processor.Process(context.Background(), models.SubmissionAcceptedEvent{SubmissionID: scoredID})
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, []string{"similarity.scored"}, publisher.keys)

	scored, ok := publisher.events[0].(models.SimilarityScoredEvent)
	require.True(t, ok)
	assert.Equal(t, models.EventSimilarityScored, scored.Type)
	assert.Equal(t, scoredID, scored.SubmissionID)
	assert.True(t, scored.IsPlagiarized)
	assert.Equal(t, 1, scored.MatchCount)
}

func TestProcessorRejectsInvalidSubmissionID(t *testing.T) {
	s := &stubScorer{err: errors.New("pq: invalid input syntax for type uuid")}
	processor := NewProcessor(s, nil, ProcessorConfig{}, zerolog.Nop())

	err := processor.Process(context.Background(), models.SubmissionAcceptedEvent{SubmissionID: "42"})

	require.Error(t, err)
	assert.True(t, isPermanentError(err))
	assert.Empty(t, s.called())
}

func TestProcessorIgnoresPublishFailure(t *testing.T) {
	publisher := &stubPublisher{err: errors.New("channel closed")}
	processor := NewProcessor(&stubScorer{}, publisher, ProcessorConfig{}, zerolog.Nop())

	assert.NoError(t, processor.Process(context.Background(), models.SubmissionAcceptedEvent{SubmissionID: scoredID}))
}

func TestLocalDispatcherScoresInBackground(t *testing.T) {
	s := &stubScorer{}
	pool := NewWorkerPool(1, zerolog.Nop())
	pool.Start()

	d := NewLocalDispatcher(pool, NewProcessor(s, nil, ProcessorConfig{}, zerolog.Nop()), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, models.SubmissionAcceptedEvent{SubmissionID: scoredID}))
	cancel()

	pool.Stop()
	assert.Equal(t, []string{scoredID}, s.called())

	assert.ErrorIs(t, d.Dispatch(context.Background(), models.SubmissionAcceptedEvent{SubmissionID: otherID}), ErrPoolStopped)
}

func TestQueueDispatcherPublishes(t *testing.T) {
	publisher := &stubPublisher{}
	d := NewQueueDispatcher(publisher, models.EventSubmissionAccepted)

	event := models.SubmissionAcceptedEvent{Type: models.EventSubmissionAccepted, SubmissionID: scoredID}
	require.NoError(t, d.Dispatch(context.Background(), event))

	assert.Equal(t, []string{models.EventSubmissionAccepted}, publisher.keys)
	assert.Equal(t, []interface{}{event}, publisher.events)

	publisher.err = errors.New("closed")
	assert.Error(t, d.Dispatch(context.Background(), event))
}
