package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/logger"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
)

type LeaderboardStore interface {
	Leaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardRow, int, error)
}

// LeaderboardCache stores rendered pages. The Redis cache implements it.
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, limit, offset int, page any) (bool, error)
	SetLeaderboard(ctx context.Context, limit, offset int, page any, ttl time.Duration) error
}

type LeaderboardHandler struct {
	store LeaderboardStore
	cache LeaderboardCache
	ttl   time.Duration
}

// NewLeaderboardHandler serves ranked sites. cache may be nil.
func NewLeaderboardHandler(store LeaderboardStore, cache LeaderboardCache, ttl time.Duration) *LeaderboardHandler {
	return &LeaderboardHandler{store: store, cache: cache, ttl: ttl}
}

func (h *LeaderboardHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultLeaderboardLimit)
	offset := c.QueryInt("offset", 0)
	if limit < 1 || limit > maxLeaderboardLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 100",
		})
	}
	if offset < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "offset must not be negative",
		})
	}

	ctx := c.UserContext()

	if h.cache != nil {
		var cached leaderboardPage
		hit, err := h.cache.GetLeaderboard(ctx, limit, offset, &cached)
		if err != nil {
			logger.Warn("Leaderboard cache read failed", zap.Error(err))
		} else if hit {
			return c.JSON(cached)
		}
	}

	rows, total, err := h.store.Leaderboard(ctx, limit, offset)
	if err != nil {
		logger.Error("Failed to load leaderboard", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load leaderboard",
		})
	}

	page := newLeaderboardPage(rows, total, limit, offset)

	if h.cache != nil {
		if err := h.cache.SetLeaderboard(ctx, limit, offset, page, h.ttl); err != nil {
			logger.Warn("Leaderboard cache write failed", zap.Error(err))
		}
	}

	return c.JSON(page)
}
