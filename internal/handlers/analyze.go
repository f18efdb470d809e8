package handlers

import (
	"io"
	"net/http"

	"unideploy/internal/apperrors"

	"github.com/gin-gonic/gin"
)

// Analyze handles POST /analyze?repo_url=...
func (h *Handler) Analyze(c *gin.Context) {
	repoURL := c.Query("repo_url")

	analysis, err := h.analyzer.AnalyzeRepo(c.Request.Context(), repoURL)
	if err != nil {
		// A clone we could not perform is an upstream failure, not ours.
		if apperrors.KindOf(err) == apperrors.KindIntegration {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// AnalyzeZip handles POST /analyze/zip with a multipart archive.
func (h *Handler) AnalyzeZip(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, apperrors.Validation("multipart field 'file' is required"))
		return
	}
	defer file.Close()

	if ok, reason := h.sysGuard.ValidateUpload(header.Size); !ok {
		respondError(c, apperrors.PayloadTooLarge(reason))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		respondError(c, err)
		return
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		_, reason := h.sysGuard.ValidateUpload(int64(len(data)))
		respondError(c, apperrors.PayloadTooLarge(reason))
		return
	}

	analysis, err := h.analyzer.AnalyzeZip(c.Request.Context(), data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}
