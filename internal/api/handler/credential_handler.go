package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/fetch-service/internal/api/dto"
)

// ListCredentials handles GET /api/v1/credentials
func (h *CredentialHandler) ListCredentials(c *gin.Context) {
	names, err := h.store.List()
	if err != nil {
		respondError(c, "Failed to list credentials", err)
		return
	}
	if names == nil {
		names = []string{}
	}

	c.JSON(http.StatusOK, dto.CredentialsResponse{Credentials: names})
}

// PutCredential handles PUT /api/v1/credentials/:name
// The body is a Netscape cookie file stored under the given name
func (h *CredentialHandler) PutCredential(c *gin.Context) {
	name := c.Param("name")

	if err := h.store.Save(name, c.Request.Body); err != nil {
		respondError(c, "Failed to save credential", err)
		return
	}

	h.logger.Info("Credential bundle saved", slog.String("name", name))

	c.JSON(http.StatusOK, gin.H{"name": name})
}
