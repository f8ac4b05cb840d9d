package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/config"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/database"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/delivery/httpd"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/detector"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/extractor"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/lock"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/service/scorer"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/worker"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/worker/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

const limiterPruneInterval = 10 * time.Minute

type App struct {
	server        *http.Server
	logger        zerolog.Logger
	config        *config.Config
	repo          repository.SubmissionRepository
	scoringWorker worker.ScoringWorker
	workerPool    *worker.WorkerPool
	limiter       *httpd.RateLimiter
	closers       []func() error
	ctx           context.Context
	cancel        context.CancelFunc
}

// New builds the HTTP service. Scoring runs on the local worker pool, or on
// the RabbitMQ consumer when the broker is enabled.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	a, err := build(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := a.wireHTTP(); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// NewWorker builds a scoring-only process that consumes submission.accepted
// events.
func NewWorker(cfg *config.Config, log zerolog.Logger) (*App, error) {
	if !cfg.RabbitMQ.Enabled {
		return nil, errors.New("standalone worker requires rabbitmq.enabled")
	}

	a, err := build(cfg, log)
	if err != nil {
		return nil, err
	}

	if _, err := a.wireScoring(); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func build(cfg *config.Config, log zerolog.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		logger: log,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	repo, err := a.openRepository()
	if err != nil {
		a.close()
		return nil, err
	}
	a.repo = repo

	return a, nil
}

func (a *App) openRepository() (repository.SubmissionRepository, error) {
	cfg := a.config

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		a.logger.Info().Str("driver", cfg.Database.Driver).Msg("Database connection established")
		return repository.NewPostgresSubmissionRepository(db, a.logger), nil

	case config.DriverMongo:
		client, db, err := database.NewMongo(a.ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})

		repo := repository.NewMongoSubmissionRepository(repository.NewMongoRepository(db), a.logger)
		if ensurer, ok := repo.(repository.IndexEnsurer); ok {
			ctx, cancel := context.WithTimeout(a.ctx, cfg.Mongo.ConnectTimeout)
			defer cancel()
			if err := ensurer.EnsureIndexes(ctx); err != nil {
				return nil, fmt.Errorf("failed to ensure mongo indexes: %w", err)
			}
		}

		a.logger.Info().Str("driver", cfg.Database.Driver).Msg("Database connection established")
		return repo, nil

	default:
		a.logger.Warn().Msg("Using in-memory repository, submissions are not persisted")
		return repository.NewMemorySubmissionRepository(), nil
	}
}

func (a *App) openStorage() (repository.ObjectStorage, error) {
	cfg := a.config.Storage
	if cfg.Provider == config.StorageNone {
		a.logger.Warn().Msg("Object storage disabled, attachments are not kept")
		return repository.NewDiscardStorage(a.logger), nil
	}

	return repository.NewMinIOStorage(repository.MinIOConfig{
		Endpoint:       cfg.Endpoint,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		Bucket:         cfg.Bucket,
		Region:         cfg.Region,
		UseSSL:         cfg.UseSSL,
		PublicURL:      cfg.PublicURL,
		ConnectTimeout: cfg.ConnectTimeout,
	}, a.logger)
}

func (a *App) openLocker() (lock.Locker, error) {
	cfg := a.config.Redis
	if !cfg.Enabled {
		return lock.NewKeyedMutex(), nil
	}

	client, err := database.NewRedis(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	return lock.NewRedisLocker(client, lock.RedisConfig{TTL: cfg.LockTTL}, a.logger), nil
}

// wireScoring returns the dispatcher the submit path uses to schedule
// scoring.
func (a *App) wireScoring() (service.ScoreDispatcher, error) {
	cfg := a.config

	similarityScorer := scorer.NewSimilarityScorer(a.repo, scorer.Config{
		PlagiarismThreshold: cfg.Scoring.PlagiarismThreshold,
		SkipBlankPages:      cfg.Detection.SkipBlankPages,
	}, a.logger)

	a.workerPool = worker.NewWorkerPool(cfg.Scoring.MaxWorkers, a.logger)
	processorCfg := worker.ProcessorConfig{
		Timeout:          cfg.Scoring.Timeout,
		ScoredRoutingKey: cfg.RabbitMQ.ScoredKey,
	}

	if !cfg.RabbitMQ.Enabled {
		processor := worker.NewProcessor(similarityScorer, nil, processorCfg, a.logger)
		return worker.NewLocalDispatcher(a.workerPool, processor, a.logger), nil
	}

	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rabbitMQRepo.Close)

	if err := rabbitMQRepo.SetupQueue(cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueName, cfg.RabbitMQ.RoutingKey); err != nil {
		return nil, err
	}

	publisher := queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), cfg.RabbitMQ.Exchange, a.logger)
	consumer := queue.NewRabbitMQConsumer(
		rabbitMQRepo.Channel(),
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		a.logger,
	)

	processor := worker.NewProcessor(similarityScorer, publisher, processorCfg, a.logger)
	a.scoringWorker = worker.NewScoringWorker(a.workerPool, consumer, processor, a.logger)

	return worker.NewQueueDispatcher(publisher, cfg.RabbitMQ.RoutingKey), nil
}

func (a *App) wireHTTP() error {
	cfg := a.config

	storage, err := a.openStorage()
	if err != nil {
		return err
	}

	locker, err := a.openLocker()
	if err != nil {
		return err
	}

	dispatcher, err := a.wireScoring()
	if err != nil {
		return err
	}

	duplicateDetector := detector.NewDuplicateDetector(a.repo, detector.Config{
		SkipBlankPages: cfg.Detection.SkipBlankPages,
	}, a.logger)

	submissionService := service.NewSubmissionService(
		a.repo,
		storage,
		extractor.New(extractor.Config{
			Timeout:      cfg.Extraction.Timeout,
			MaxTextBytes: cfg.Extraction.MaxTextBytes,
		}, a.logger),
		duplicateDetector,
		locker,
		dispatcher,
		service.Config{
			MaxFileSize:  cfg.Upload.MaxFileSize,
			MaxFiles:     cfg.Upload.MaxFiles,
			AllowedTypes: cfg.Upload.AllowedTypes,
			LockTimeout:  cfg.Detection.LockTimeout,
		},
		a.logger,
	)

	a.limiter = httpd.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	handler := httpd.NewHandler(
		submissionService,
		a.repo,
		a.limiter,
		a.stats,
		httpd.Config{
			JWTSecret: cfg.Auth.JWTSecret,
			// Room for the form fields and multipart framing.
			MaxRequestBytes: cfg.Upload.MaxFileSize*int64(cfg.Upload.MaxFiles) + 1<<20,
		},
		a.logger,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(httpd.RequestLogger(a.logger))
	router.Use(httpd.Recovery(a.logger))
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return nil
}

func (a *App) stats() interface{} {
	if a.scoringWorker != nil {
		return a.scoringWorker.GetStats()
	}
	return a.workerPool.GetStats()
}

// Run starts scoring and, for the HTTP service, blocks serving requests.
// A worker-only App returns once its consumer is running.
func (a *App) Run() error {
	if err := a.startScoring(); err != nil {
		return err
	}

	if a.server == nil {
		a.logger.Info().Msg("Scoring worker running")
		return nil
	}

	go a.pruneLimiter()

	a.logger.Info().Msgf("Starting submission service on %s", a.config.Server.Address)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startScoring() error {
	if a.scoringWorker != nil {
		if err := a.scoringWorker.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start scoring worker: %w", err)
		}
		return nil
	}

	a.workerPool.Start()
	return nil
}

func (a *App) pruneLimiter() {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.limiter.Prune()
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down submission service...")

	var serverErr error
	if a.server != nil {
		if serverErr = a.server.Shutdown(ctx); serverErr != nil {
			a.logger.Error().Err(serverErr).Msg("Failed to shutdown HTTP server")
		}
	}

	a.cancel()

	if a.scoringWorker != nil {
		if err := a.scoringWorker.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to stop scoring worker")
		}
	} else if a.workerPool != nil {
		a.workerPool.Stop()
	}

	a.close()

	a.logger.Info().Msg("Submission service stopped")
	return serverErr
}

// close releases connections in reverse order of opening.
func (a *App) close() {
	a.cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
