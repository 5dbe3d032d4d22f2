package types

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/twabx/pkg/archive"
	"github.com/canopy-network/twabx/pkg/ledger"
	"github.com/canopy-network/twabx/pkg/redis"
)

// App wires the oracle service together: the in-memory ledger is the source
// of truth, Redis and ClickHouse are optional side channels.
type App struct {
	Ledger *ledger.Ledger
	// RedisClient publishes observation.recorded events; nil when disabled.
	RedisClient *redis.Client
	// Archive persists observations to ClickHouse; nil when disabled.
	Archive *archive.Client
	Flusher *archive.Flusher
	// Cron drives the periodic archive flush.
	Cron *cron.Cron
	// Zap Logger
	Logger *zap.Logger
	// Server handles incoming client requests.
	Server *http.Server
}

// Start runs the HTTP server until ctx is cancelled, then shuts everything
// down in dependency order, flushing the archive one last time.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
	}

	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	if a.Flusher != nil {
		if err := a.Flusher.Flush(shutdownCtx); err != nil {
			a.Logger.Error("Final archive flush failed", zap.Error(err))
		}
	}

	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.Logger.Error("Failed to close ClickHouse connection", zap.Error(err))
		}
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	a.Logger.Info("Oracle stopped")
}
