package httpd

import (
	"context"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	JWTSecret string
	// MaxRequestBytes caps a whole multipart submit request.
	MaxRequestBytes int64
}

type Handler struct {
	submissionService service.SubmissionService
	pinger            Pinger
	limiter           *RateLimiter
	stats             func() interface{}
	config            Config
	logger            zerolog.Logger
}

func NewHandler(
	submissionService service.SubmissionService,
	pinger Pinger,
	limiter *RateLimiter,
	stats func() interface{},
	config Config,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		submissionService: submissionService,
		pinger:            pinger,
		limiter:           limiter,
		stats:             stats,
		config:            config,
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/ready", h.ReadyCheck)

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(Authenticate(h.config.JWTSecret))

		api.Route("/assignments/{assignment_id}/submissions", func(r chi.Router) {
			r.With(RequireType(RoleStudent), RateLimit(h.limiter)).Post("/", h.Submit)
			r.With(RequireType(RoleTeacher)).Get("/", h.ListSubmissions)
		})

		api.Route("/submissions/{submission_id}", func(r chi.Router) {
			r.Get("/", h.GetSubmission)
			r.With(RequireType(RoleTeacher)).Put("/grade", h.GradeSubmission)
			r.With(RequireType(RoleTeacher)).Get("/similarity", h.GetSimilarityReport)
			r.With(RequireType(RoleTeacher)).Post("/similarity/rescore", h.RescoreSubmission)
		})
	})
}
