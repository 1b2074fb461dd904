package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/infrastructure/redis"
)

// LiveBoardCache keeps the most recent live board per workspace for a short TTL,
// so concurrent viewers share one computation.
type LiveBoardCache struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewLiveBoardCache creates a new live board cache
func NewLiveBoardCache(redisClient *redis.Client, logger *slog.Logger) *LiveBoardCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveBoardCache{redis: redisClient, logger: logger}
}

func boardKey(workspaceID string) string {
	return fmt.Sprintf("live:%s", workspaceID)
}

// Get returns the cached board. A miss is (nil, false, nil).
func (c *LiveBoardCache) Get(ctx context.Context, workspaceID string) (*compliance.Board, bool, error) {
	data, err := c.redis.Get(ctx, boardKey(workspaceID))
	if errors.Is(err, redis.ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get live board: %w", err)
	}

	var board compliance.Board
	if err := json.Unmarshal([]byte(data), &board); err != nil {
		c.logger.Warn("dropping undecodable live board",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
		_ = c.redis.Delete(ctx, boardKey(workspaceID))
		return nil, false, nil
	}
	return &board, true, nil
}

// Set stores the board with a TTL of at least one second
func (c *LiveBoardCache) Set(ctx context.Context, workspaceID string, board *compliance.Board, ttl time.Duration) error {
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("failed to marshal live board: %w", err)
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := c.redis.Set(ctx, boardKey(workspaceID), string(data), ttl); err != nil {
		return fmt.Errorf("failed to store live board: %w", err)
	}
	return nil
}

// Invalidate drops the cached board after a write that changes it
func (c *LiveBoardCache) Invalidate(ctx context.Context, workspaceID string) error {
	if err := c.redis.Delete(ctx, boardKey(workspaceID)); err != nil {
		return fmt.Errorf("failed to invalidate live board: %w", err)
	}
	return nil
}
