package oracle

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/twabx/app/oracle/types"
	"github.com/canopy-network/twabx/pkg/archive"
	"github.com/canopy-network/twabx/pkg/ledger"
	"github.com/canopy-network/twabx/pkg/logging"
	"github.com/canopy-network/twabx/pkg/redis"
	"github.com/canopy-network/twabx/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	// Initialize Redis client for real-time observation events (optional)
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - real-time events will be disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - real-time observation events will not be available")
	}

	var events ledger.Publisher
	if redisClient != nil {
		events = redisClient
	}

	led := ledger.New(logger, ledger.Config{
		RetentionPeriod: utils.EnvUint32("TWAB_RETENTION_PERIOD", 0),
		Events:          events,
		BatchWorkers:    utils.EnvInt("BATCH_WORKERS", 0),
	})

	app := &types.App{
		Ledger:      led,
		RedisClient: redisClient,
		Logger:      logger,
	}

	// Initialize the ClickHouse observation archive (optional)
	if utils.Env("ARCHIVE_ENABLED", "false") == "true" {
		archiveClient, archiveErr := archive.New(ctx, logger)
		if archiveErr != nil {
			logger.Fatal("Unable to initialize observation archive", zap.Error(archiveErr))
		}
		app.Archive = archiveClient
		app.Flusher = archive.NewFlusher(logger, led, archiveClient)

		spec := utils.Env("ARCHIVE_FLUSH_SCHEDULE", "@every 30s")
		app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
		if _, cronErr := app.Cron.AddFunc(spec, func() {
			// keep each run bounded
			fctx, cancel := context.WithTimeout(ctx, 25*time.Second)
			defer cancel()
			if flushErr := app.Flusher.Flush(fctx); flushErr != nil {
				logger.Warn("Archive flush failed", zap.Error(flushErr))
			}
		}); cronErr != nil {
			logger.Fatal("Unable to schedule archive flush", zap.String("spec", spec), zap.Error(cronErr))
		}
	} else {
		logger.Info("Archive disabled - observations will not be persisted")
	}

	return app
}
