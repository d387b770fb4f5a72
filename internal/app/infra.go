// Package app wires configuration, infrastructure clients and domain services together
// for the marketplace binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/database"
	"trades-marketplace/internal/common/logger"
)

// RetryWithBackoff runs operation up to maxRetries times, doubling the delay after each failure.
func RetryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(operationName+" failed, retrying", map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// Infrastructure holds the connected backing stores.
type Infrastructure struct {
	Postgres      *database.PostgresClient
	Redis         *database.RedisClient
	Elasticsearch *database.ElasticsearchClient
}

// Connect dials Postgres, Redis and Elasticsearch with retries and runs migrations when
// auto_migrate is set.
func Connect(ctx context.Context, cfg *config.Config, log logger.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{}

	err := RetryWithBackoff(func() error {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		infra.Postgres = pg
		return nil
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	log.Info("PostgreSQL connected", nil)

	if cfg.Database.Postgres.AutoMigrate {
		if err := infra.Postgres.Migrate(ctx); err != nil {
			infra.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("database migrations applied", nil)
	}

	err = RetryWithBackoff(func() error {
		rdb, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		if err := rdb.Ping(ctx); err != nil {
			_ = rdb.Close()
			return err
		}
		infra.Redis = rdb
		return nil
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		infra.Close()
		return nil, err
	}
	log.Info("Redis connected", nil)

	err = RetryWithBackoff(func() error {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		if err := es.Ping(ctx); err != nil {
			return err
		}
		infra.Elasticsearch = es
		return nil
	}, 15, 2*time.Second, log, "Elasticsearch connection")
	if err != nil {
		infra.Close()
		return nil, err
	}
	log.Info("Elasticsearch connected", nil)

	return infra, nil
}

func (i *Infrastructure) Close() {
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Postgres != nil {
		_ = i.Postgres.Close()
	}
}

// ConnectZeebe opens the broker client with the same retry policy as the stores.
func ConnectZeebe(cfg config.CamundaConfig, log logger.Logger) (*camunda.Client, error) {
	var client *camunda.Client
	err := RetryWithBackoff(func() error {
		var err error
		client, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
			RequestTimeout:         millis(cfg.RequestTimeout, 30*time.Second),
			RetryConfig:            camunda.DefaultRetryConfig,
		})
		return err
	}, 10, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		return nil, err
	}
	log.Info("Zeebe client connected", map[string]interface{}{"broker": cfg.BrokerAddress})
	return client, nil
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
