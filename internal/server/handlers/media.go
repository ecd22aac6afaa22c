package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/nightjar-media/nightjar/internal/modules/mediamodule"
	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

// MediaHandler serves read access to the media catalog.
type MediaHandler struct {
	logger   hclog.Logger
	resolver *mediamodule.Resolver
}

// NewMediaHandler creates the catalog API handler.
func NewMediaHandler(resolver *mediamodule.Resolver, logger hclog.Logger) *MediaHandler {
	return &MediaHandler{
		logger:   logger.Named("media-api"),
		resolver: resolver,
	}
}

// ListMedia returns a page of catalogued files.
func (h *MediaHandler) ListMedia(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	files, err := h.resolver.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list media failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list media"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"media": files, "count": len(files)})
}

// GetMedia returns one catalog record.
func (h *MediaHandler) GetMedia(c *gin.Context) {
	file, err := h.resolver.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, streamingmodule.ErrMediaFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "media file not found"})
			return
		}
		h.logger.Error("get media failed", "media_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get media"})
		return
	}
	c.JSON(http.StatusOK, file)
}
