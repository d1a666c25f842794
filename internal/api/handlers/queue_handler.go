package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/queue"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/logger"
)

type QueueReader interface {
	Get(ctx context.Context, id string) (*models.QueueItem, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
}

type QueueHandler struct {
	queue QueueReader
}

func NewQueueHandler(q QueueReader) *QueueHandler {
	return &QueueHandler{queue: q}
}

func (h *QueueHandler) GetItem(c *fiber.Ctx) error {
	id := c.Params("id")

	item, err := h.queue.Get(c.UserContext(), id)
	if errors.Is(err, queue.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Queue item not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get queue item", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get queue item",
		})
	}

	return c.JSON(newQueueItemResponse(item))
}

func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.queue.Stats(c.UserContext())
	if err != nil {
		logger.Error("Failed to get queue stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get queue stats",
		})
	}

	return c.JSON(fiber.Map{
		"pending":    stats.Pending,
		"processing": stats.Processing,
		"completed":  stats.Completed,
		"failed":     stats.Failed,
	})
}
