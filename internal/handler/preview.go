package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/logger"
	"github.com/CageChen/contentbridge/internal/markdown"
	"github.com/CageChen/contentbridge/internal/middleware"
)

// PreviewRequest is the body of POST /api/preview
type PreviewRequest struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// PreviewHandler renders the form's current content without touching GitHub
type PreviewHandler struct {
	renderer *markdown.Renderer
	logger   *zap.Logger
}

// NewPreviewHandler creates a new preview handler
func NewPreviewHandler(log *zap.Logger) *PreviewHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PreviewHandler{
		renderer: markdown.NewRenderer(),
		logger:   log,
	}
}

// Preview renders content as it would appear for the given path
func (h *PreviewHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidPayloadMessage})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required to render a preview"})
		return
	}

	result, err := h.renderer.Render(req.Path, []byte(req.Content))
	if err != nil {
		h.logger.Error("preview failed",
			zap.String(logger.FieldRequestID, middleware.RequestID(c)),
			zap.String(logger.FieldPath, req.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render preview"})
		return
	}

	c.JSON(http.StatusOK, result)
}
