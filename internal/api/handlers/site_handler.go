package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/domainname"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/logger"
)

type SiteStore interface {
	GetSite(ctx context.Context, domain string) (*models.Site, error)
	LatestSnapshot(ctx context.Context, siteID int64) (*models.SiteMetricsSnapshot, error)
	GetRankEntry(ctx context.Context, siteID int64) (*models.RankEntry, error)
}

type SiteHandler struct {
	store SiteStore
}

func NewSiteHandler(store SiteStore) *SiteHandler {
	return &SiteHandler{store: store}
}

// Get returns a site with its latest snapshot and rank. The path parameter
// goes through the same normalization as submissions, so "WWW.Example.com"
// finds "example.com".
func (h *SiteHandler) Get(c *fiber.Ctx) error {
	domain, err := domainname.Normalize(c.Params("domain"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ctx := c.UserContext()

	site, err := h.store.GetSite(ctx, domain)
	if errors.Is(err, models.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Site not found",
		})
	}
	if err != nil {
		return h.internalError(c, domain, err)
	}

	snap, err := h.store.LatestSnapshot(ctx, site.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return h.internalError(c, domain, err)
	}

	rank, err := h.store.GetRankEntry(ctx, site.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return h.internalError(c, domain, err)
	}

	return c.JSON(newSiteResponse(site, snap, rank))
}

func (h *SiteHandler) internalError(c *fiber.Ctx, domain string, err error) error {
	logger.Error("Failed to load site", zap.String("domain", domain), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to load site",
	})
}
