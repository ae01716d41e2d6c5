package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/lapak-dev/backend-lapak/internal/config"
	dbgen "github.com/lapak-dev/backend-lapak/internal/db/gen"
	"github.com/lapak-dev/backend-lapak/internal/obs"
)

// Dependencies holds the process-wide clients the api and worker binaries
// share. It doubles as the health.Checker for /readyz.
type Dependencies struct {
	Pool      *pgxpool.Pool
	Queries   *dbgen.Queries
	Redis     *redis.Client
	Validator *validator.Validate
	Limiter   *limiter.Limiter
	Tasks     *asynq.Client
}

// Build connects and verifies every shared dependency. On error the partially
// built container is closed before returning.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "backend-lapak"
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	deps.Pool = pool
	deps.Queries = dbgen.New(pool)
	if err := deps.PingDB(ctx, 5*time.Second); err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	deps.Redis = redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(deps.Redis); err != nil {
		logger.Warn().Err(err).Msg("instrument redis tracing")
	}
	if err := deps.PingRedis(ctx, 3*time.Second); err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	deps.Validator = validator.New()

	rate, err := limiter.NewRateFromFormatted(cfg.GlobalRateLimit)
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("parse GLOBAL_RATE_LIMIT: %w", err)
	}
	store, err := limiterredis.NewStoreWithOptions(deps.Redis, limiter.StoreOptions{Prefix: "ratelimit:global"})
	if err != nil {
		deps.Close(logger)
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	deps.Limiter = limiter.New(store, rate)

	taskOpt, err := TaskRedisOpt(cfg)
	if err != nil {
		deps.Close(logger)
		return nil, err
	}
	deps.Tasks = asynq.NewClient(taskOpt)

	return deps, nil
}

// TaskRedisOpt converts REDIS_URL into the connection options asynq expects.
func TaskRedisOpt(cfg *config.Config) (asynq.RedisClientOpt, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}

// Close releases every initialised client. Safe on a partial container.
func (d *Dependencies) Close(logger zerolog.Logger) {
	if d == nil {
		return
	}
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.Pool == nil {
		return errors.New("database not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Pool.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// RunMigrations applies pending migrations, treating no-change as success.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
