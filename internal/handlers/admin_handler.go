package handlers

import (
	"net/http"
	"time"

	"github.com/alumnet/backend/internal/services"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the reconciliation and usage surface consumed by admin
// tooling. Every destructive pass honors dry_run.
type AdminHandler struct {
	cleanupService *services.CleanupService
	uploadService  *services.UploadService
}

func NewAdminHandler(cleanupService *services.CleanupService, uploadService *services.UploadService) *AdminHandler {
	return &AdminHandler{
		cleanupService: cleanupService,
		uploadService:  uploadService,
	}
}

// UsageStats returns external-store aggregates plus the ledger count and the
// number of swallowed external deletes since startup.
// GET /admin/media/stats
func (h *AdminHandler) UsageStats(c *gin.Context) {
	stats, err := h.cleanupService.UsageStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":                    stats,
		"dropped_external_deletes": h.uploadService.DroppedExternalDeletes(),
	})
}

// ListExternal walks the external store with metadata filters.
// GET /admin/media/external?env=production&uploader_id=...&uploaded_after=RFC3339
func (h *AdminHandler) ListExternal(c *gin.Context) {
	filter := services.ExternalFilter{
		App:          c.Query("app"),
		Environment:  c.Query("env"),
		UploaderID:   c.Query("uploader_id"),
		ResourceType: c.Query("resource_type"),
	}
	if v := c.Query("uploaded_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded_after must be RFC3339"})
			return
		}
		filter.UploadedAfter = &t
	}
	if v := c.Query("uploaded_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded_before must be RFC3339"})
			return
		}
		filter.UploadedBefore = &t
	}

	items, err := h.cleanupService.ListExternalByMetadata(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

type sweepRequest struct {
	DryRun bool `json:"dry_run"`
}

// SweepOrphans runs the orphaned-external detection pass.
// POST /admin/media/orphans
func (h *AdminHandler) SweepOrphans(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.cleanupService.FindOrphans(c.Request.Context(), req.DryRun)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// SweepDangling runs the symmetric ledger-side sweep.
// POST /admin/media/dangling
func (h *AdminHandler) SweepDangling(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.cleanupService.FindDangling(c.Request.Context(), req.DryRun)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

type purgeRequest struct {
	OlderThanDays int  `json:"older_than_days" binding:"required,min=1"`
	DryRun        bool `json:"dry_run"`
}

// Purge removes objects uploaded strictly before the cutoff.
// POST /admin/media/purge
func (h *AdminHandler) Purge(c *gin.Context) {
	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.cleanupService.PurgeOlderThan(c.Request.Context(), req.OlderThanDays, req.DryRun)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
