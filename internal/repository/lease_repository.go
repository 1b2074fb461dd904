package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldtrack/coldtrack/internal/infrastructure/redis"
)

// LeaseRepository implements domain.LeaseRepository using Redis SET NX with a TTL
type LeaseRepository struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewLeaseRepository creates a new lease repository
func NewLeaseRepository(redisClient *redis.Client, logger *slog.Logger) *LeaseRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseRepository{
		redis:  redisClient,
		logger: logger,
	}
}

func leaseKey(key string) string {
	return "lease:" + key
}

// Acquire takes the key for ttl. It returns false when another holder still has it.
func (r *LeaseRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := r.redis.SetNX(ctx, leaseKey(key), time.Now().UTC().Format(time.RFC3339), ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if ok {
		r.logger.Debug("lease acquired", slog.String("lease_key", key), slog.Duration("ttl", ttl))
	}
	return ok, nil
}

// Release drops the key so the next caller can acquire it
func (r *LeaseRepository) Release(ctx context.Context, key string) error {
	if err := r.redis.Delete(ctx, leaseKey(key)); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
