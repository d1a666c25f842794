package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/metrics"
	"github.com/wprank/backend/internal/middleware/validation"
	"github.com/wprank/backend/internal/queue"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/logger"
)

const defaultSource = "api"

type Submitter interface {
	Submit(ctx context.Context, raw string, priority int, source string) (*models.QueueItem, error)
}

type SubmissionHandler struct {
	queue Submitter
}

func NewSubmissionHandler(q Submitter) *SubmissionHandler {
	return &SubmissionHandler{queue: q}
}

// Submit enqueues a domain for crawling. The body has already been checked
// by the validation middleware; a request that skipped it is parsed here.
func (h *SubmissionHandler) Submit(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.SubmissionKey).(*validation.SubmissionRequest)
	if !ok {
		req = &validation.SubmissionRequest{}
		if err := c.BodyParser(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if req.Target() == "" {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "domain or url is required",
		})
	}

	source := req.Source
	if source == "" {
		source = defaultSource
	}

	item, err := h.queue.Submit(c.UserContext(), req.Target(), req.Priority, source)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrInvalidDomain):
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, queue.ErrAlreadyQueued):
		metrics.Submissions.WithLabelValues("already_queued").Inc()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Domain is already queued",
		})
	case errors.Is(err, queue.ErrRecentlyCrawled):
		metrics.Submissions.WithLabelValues("recently_crawled").Inc()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Domain was crawled recently",
		})
	default:
		logger.Error("Failed to submit domain", zap.String("target", req.Target()), zap.Error(err))
		metrics.Submissions.WithLabelValues("error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to submit domain",
		})
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	return c.Status(fiber.StatusAccepted).JSON(newQueueItemResponse(item))
}
