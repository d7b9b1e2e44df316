// Package storage aggregates the independently-failing external systems
// the reliability layer is stitched over: the document store (MySQL), the
// shared guard store (Redis), the messaging gateway transport (RabbitMQ)
// and the evidence archive (MinIO).
package storage

import (
	"context"
	"fmt"
	"strings"

	"concierge-go/internal/config"
	"concierge-go/internal/logger"
)

// Storage aggregates all storage dependencies.
type Storage struct {
	// Document store
	MySQL *MySQL

	// Shared guard store
	Redis *Redis

	// Messaging gateway transport
	RabbitMQ *RabbitMQ

	// Evidence archive
	MinIO *MinIO
}

// NewStorage initializes every configured backend. Initialization is
// best-effort per backend: a failing optional backend is logged and left
// nil, but if everything fails the call errors.
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	storage := &Storage{}
	var err error
	var initErrors []string

	if cfg.MySQL.Host != "" {
		storage.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			logger.Warn().Err(err).Msg("mysql initialization failed")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis initialization failed")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		logger.Info().Msg("redis not configured, guard stores fall back to process-local memory")
	}

	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq initialization failed")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if cfg.MinIO.Endpoint != "" {
		storage.MinIO, err = NewMinIO(&cfg.MinIO)
		if err != nil {
			logger.Warn().Err(err).Msg("minio initialization failed")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if storage.MySQL == nil && storage.Redis == nil && storage.RabbitMQ == nil && storage.MinIO == nil {
		return nil, fmt.Errorf("all storage backends failed to initialize: %s", strings.Join(initErrors, "; "))
	}

	if len(initErrors) > 0 {
		logger.Warn().Strs("errors", initErrors).Msg("some storage backends failed to initialize")
	}

	return storage, nil
}

// Close closes every open backend.
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Error().Err(err).Msg("close rabbitmq failed")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			logger.Error().Err(err).Msg("close mysql failed")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis failed")
		}
	}
	// The MinIO client holds no long-lived connection requiring close.
}
