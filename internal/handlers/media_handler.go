package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alumnet/backend/internal/models"
	"github.com/alumnet/backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MediaHandler struct {
	uploadService *services.UploadService
	resolver      *services.MediaResolver
}

func NewMediaHandler(uploadService *services.UploadService, resolver *services.MediaResolver) *MediaHandler {
	return &MediaHandler{
		uploadService: uploadService,
		resolver:      resolver,
	}
}

func uploaderID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	return id, ok
}

// Upload attaches one or more images to a resource.
// POST /media/upload/:purpose/:resourceId
// Multipart form: files[] (one or more), metadata (optional JSON object)
func (h *MediaHandler) Upload(c *gin.Context) {
	preset, err := services.PresetFor(services.UploadPurpose(c.Param("purpose")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	uploader, ok := uploaderID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "uploader identity missing"})
		return
	}

	var metadata map[string]string
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be a JSON object of strings"})
			return
		}
	}

	uc := services.UploadContext{
		ResourceType: preset.ResourceType,
		ResourceID:   c.Param("resourceId"),
		Tag:          preset.Tag,
		UploaderID:   uploader,
		Metadata:     metadata,
	}

	result, err := h.uploadService.UploadFromRequest(c.Request.Context(), c.Request, "files[]", uc, preset.Options)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusCreated
	if len(result.Successful) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}

// GetResourceMedia returns all media attached to one resource, grouped by tag.
// GET /media/resource/:resourceType/:resourceId
func (h *MediaHandler) GetResourceMedia(c *gin.Context) {
	rt := models.ResourceType(c.Param("resourceType"))
	if !rt.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resource type"})
		return
	}
	resourceID := c.Param("resourceId")

	resolved, err := h.resolver.Resolve(c.Request.Context(), []services.ResourceDescriptor{
		{ResourceType: rt, ResourceIDs: []string{resourceID}, Tags: rt.AllowedTags()},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve media"})
		return
	}

	response := gin.H{}
	for _, tag := range rt.AllowedTags() {
		if tag.IsSingular() {
			response[string(tag)] = resolved.Singular(rt, tag, resourceID)
		} else {
			items := resolved.Collection(rt, tag, resourceID)
			if items == nil {
				items = []models.MediaAsset{}
			}
			response[string(tag)] = items
		}
	}
	c.JSON(http.StatusOK, response)
}

type resolveRequest struct {
	Descriptors []services.ResourceDescriptor `json:"descriptors" binding:"required"`
}

type resolvedGroup struct {
	ResourceType models.ResourceType `json:"resource_type"`
	Tag          models.MediaTag     `json:"tag"`
	Singular     bool                `json:"singular"`
	Media        gin.H               `json:"media"`
}

// Resolve answers a batch of resource descriptors for list rendering.
// POST /media/resolve
func (h *MediaHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, d := range req.Descriptors {
		if !d.ResourceType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resource type: " + string(d.ResourceType)})
			return
		}
	}

	resolved, err := h.resolver.Resolve(c.Request.Context(), req.Descriptors)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve media"})
		return
	}

	groups := []resolvedGroup{}
	for _, d := range req.Descriptors {
		for _, tag := range d.Tags {
			group := resolvedGroup{
				ResourceType: d.ResourceType,
				Tag:          tag,
				Singular:     tag.IsSingular(),
				Media:        gin.H{},
			}
			for _, id := range d.ResourceIDs {
				if tag.IsSingular() {
					group.Media[id] = resolved.Singular(d.ResourceType, tag, id)
				} else {
					items := resolved.Collection(d.ResourceType, tag, id)
					if items == nil {
						items = []models.MediaAsset{}
					}
					group.Media[id] = items
				}
			}
			groups = append(groups, group)
		}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

type reorderRequest struct {
	OrderedIDs []uuid.UUID `json:"ordered_ids" binding:"required"`
}

// Reorder rewrites a collection's ordering.
// PUT /media/resource/:resourceType/:resourceId/:tag/order
func (h *MediaHandler) Reorder(c *gin.Context) {
	rt := models.ResourceType(c.Param("resourceType"))
	tag := models.MediaTag(c.Param("tag"))

	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.uploadService.Reorder(c.Request.Context(), rt, c.Param("resourceId"), tag, req.OrderedIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reordered"})
}

// Delete removes one asset.
// DELETE /media/assets/:id
func (h *MediaHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}

	if err := h.uploadService.DeleteMedia(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrAssetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete asset"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// DeleteByResource removes all of a resource's media, optionally one tag only.
// DELETE /media/resource/:resourceType/:resourceId?tag=gallery
func (h *MediaHandler) DeleteByResource(c *gin.Context) {
	rt := models.ResourceType(c.Param("resourceType"))
	if !rt.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resource type"})
		return
	}

	var tag *models.MediaTag
	if t := c.Query("tag"); t != "" {
		mt := models.MediaTag(t)
		if err := models.ValidateAttachment(rt, mt); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tag = &mt
	}

	deleted, err := h.uploadService.DeleteByResource(c.Request.Context(), rt, c.Param("resourceId"), tag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete resource media"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type metadataRequest struct {
	Metadata map[string]string `json:"metadata" binding:"required"`
}

// UpdateMetadata replaces an asset's opaque metadata.
// PATCH /media/assets/:id/metadata
func (h *MediaHandler) UpdateMetadata(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}

	var req metadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.uploadService.UpdateMetadata(c.Request.Context(), id, req.Metadata); err != nil {
		if errors.Is(err, services.ErrAssetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update metadata"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
