package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/app"
	"github.com/lapak-dev/backend-lapak/internal/auth"
	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/config"
	"github.com/lapak-dev/backend-lapak/internal/lock"
	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "lapak"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buildCtx, cancelBuild := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Build(buildCtx, cfg, logger)
	cancelBuild()
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer deps.Close(logger)

	authSvc, err := auth.NewService(auth.Config{
		Queries:         deps.Queries,
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		Issuer:          cfg.JWTIssuer,
		Audience:        cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}

	emailHandler := &tasks.EmailHandler{
		Q:      deps.Queries,
		Sender: common.LogEmailSender{Log: logger},
		Logger: logger,
	}

	redisOpt, err := app.TaskRedisOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("task broker options")
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: envInt("WORKER_CONCURRENCY", 10),
		Queues:      map[string]int{tasks.QueueEmail: 10},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	if err := srv.Start(tasks.NewMux(emailHandler)); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	go purgeSessions(ctx, logger, authSvc, lock.Locker{Client: deps.Redis})

	logger.Info().Msg("worker started")
	<-ctx.Done()

	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// purgeSessions deletes expired refresh sessions on an interval. The lock
// keeps a worker fleet from running the delete concurrently; a contended
// round times out and waits for the next tick.
func purgeSessions(ctx context.Context, logger zerolog.Logger, svc *auth.Service, locker lock.Locker) {
	ticker := time.NewTicker(envDuration("WORKER_SESSION_PURGE_INTERVAL", time.Hour))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := locker.WithLock(attemptCtx, "worker:session-purge", time.Minute, func(lockCtx context.Context) error {
				removed, err := svc.PurgeExpiredSessions(lockCtx)
				if err != nil {
					return err
				}
				if removed > 0 {
					logger.Info().Int64("sessions", removed).Msg("purged expired sessions")
				}
				return nil
			})
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error().Err(err).Msg("session purge")
			}
		}
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
