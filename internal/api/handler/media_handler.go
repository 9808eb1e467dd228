package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/fetch-service/internal/api/dto"
)

// GetInfo handles GET /api/v1/media/info
func (h *MediaHandler) GetInfo(c *gin.Context) {
	var q dto.MediaQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "url query parameter is required",
		})
		return
	}

	info, err := h.jobs.ProbeMetadata(c.Request.Context(), q.URL, q.Credential)
	if err != nil {
		respondError(c, "Failed to probe media", err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// GetFormats handles GET /api/v1/media/formats
func (h *MediaHandler) GetFormats(c *gin.Context) {
	var q dto.MediaQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "url query parameter is required",
		})
		return
	}

	formats, err := h.jobs.ListFormats(c.Request.Context(), q.URL, q.Credential)
	if err != nil {
		respondError(c, "Failed to list formats", err)
		return
	}

	c.JSON(http.StatusOK, dto.FormatsResponse{URL: q.URL, Formats: formats})
}
