package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/app"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/config"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/database"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log = logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			direction, args := "up", []string(nil)
			if len(os.Args) > 2 {
				direction, args = os.Args[2], os.Args[3:]
			}
			runMigrations(cfg, log, direction, args)
			return
		case "worker":
			run(cfg, log, app.NewWorker, "Scoring worker")
			return
		case "serve":
		default:
			log.Fatal().Str("command", os.Args[1]).Msg("Unknown command. Use serve, worker or migrate")
		}
	}

	run(cfg, log, app.New, "Submission service")
}

func run(cfg *config.Config, log zerolog.Logger, build func(*config.Config, zerolog.Logger) (*app.App, error), name string) {
	application, err := build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msgf("Failed to create %s", name)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go func() {
		if err := application.Run(); err != nil {
			log.Error().Err(err).Msgf("%s failed", name)
			stop()
		}
	}()

	log.Info().Msgf("%s started", name)

	<-ctx.Done()
	log.Info().Msgf("Shutting down %s...", name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown gracefully")
	}

	log.Info().Msgf("%s stopped", name)
}

func runMigrations(cfg *config.Config, log zerolog.Logger, direction string, args []string) {
	if cfg.Database.Driver != config.DriverPostgres {
		log.Info().Str("driver", cfg.Database.Driver).Msg("No SQL migrations for this driver")
		return
	}

	migrator, err := database.NewMigrator(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Migrations applied successfully")
	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatal().Err(err).Msg("Failed to rollback migrations")
		}
		log.Info().Msg("Migrations rolled back successfully")
	case "force":
		if len(args) == 0 {
			log.Fatal().Msg("Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid migration version")
		}
		if err := migrator.Force(version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force migration version")
		}
		log.Info().Int("version", version).Msg("Migration version forced")
	default:
		log.Fatal().Msg("Invalid migration direction. Use 'up', 'down' or 'force'")
	}
}
