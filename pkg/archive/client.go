package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/canopy-network/twabx/pkg/retry"
	"github.com/canopy-network/twabx/pkg/utils"
)

// Client is the ClickHouse sink for recorded observations. The oracle answers
// every query from memory; the archive exists so hosts can keep a durable,
// queryable history beyond the in-memory ring buffers.
type Client struct {
	Logger *zap.Logger
	Db     driver.Conn
	Name   string
}

// ObservationsTableName is the durable observation log table.
const ObservationsTableName = "observations"

// New connects to ClickHouse and ensures the twabx database and tables exist.
// Configuration comes from the environment:
//   - CLICKHOUSE_HOST (default "localhost"), CLICKHOUSE_PORT (default 9000)
//   - CLICKHOUSE_USER (default "default"), CLICKHOUSE_PASSWORD (default "")
//   - CLICKHOUSE_DATABASE (default "twabx")
func New(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("CLICKHOUSE_HOST", "localhost")
	port := utils.EnvInt("CLICKHOUSE_PORT", 9000)
	username := utils.Env("CLICKHOUSE_USER", "default")
	password := utils.Env("CLICKHOUSE_PASSWORD", "")
	database := utils.Env("CLICKHOUSE_DATABASE", "twabx")

	addr := fmt.Sprintf("%s:%d", host, port)

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	client := &Client{Logger: logger, Name: database}

	options := &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: username,
			Password: password,
		},
		DialTimeout:     15 * time.Second,
		MaxOpenConns:    utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    utils.EnvInt("CLICKHOUSE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Hour,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}

	err := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "clickhouse_connection", func() error {
		conn, err := clickhouse.Open(options)
		if err != nil {
			return fmt.Errorf("open clickhouse connection: %w", err)
		}
		if err := conn.Ping(connCtx); err != nil {
			return fmt.Errorf("ping clickhouse at %s: %w", addr, err)
		}
		client.Db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := client.initialize(ctx); err != nil {
		return nil, err
	}

	logger.Info("Connected to ClickHouse",
		zap.String("addr", addr),
		zap.String("database", database))

	return client, nil
}

// initialize creates the archive database and observation log table.
// ReplacingMergeTree keyed on (address, timestamp) collapses re-archived rows,
// so flushing the same mutation twice is harmless.
func (c *Client) initialize(ctx context.Context) error {
	if err := c.Db.Exec(ctx, fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS "%s"`, c.Name)); err != nil {
		return fmt.Errorf("create database %s: %w", c.Name, err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			address     String,
			timestamp   UInt32,
			amount      String,
			balance     String,
			cardinality UInt32,
			recorded_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(recorded_at)
		ORDER BY (address, timestamp)`,
		c.Name, ObservationsTableName,
	)
	if err := c.Db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", ObservationsTableName, err)
	}

	return nil
}

// Health checks the connection.
func (c *Client) Health(ctx context.Context) error {
	return c.Db.Ping(ctx)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.Db.Close()
}
