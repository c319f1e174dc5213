package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/listrelay/listrelay/internal/domain"
	"github.com/listrelay/listrelay/internal/logger"
	"github.com/listrelay/listrelay/internal/repository"
	"github.com/listrelay/listrelay/internal/service"
)

// AdminHandler exposes read-only operational state: recent reload runs and
// the active configuration mapping.
type AdminHandler struct {
	runs  *repository.RunRepository
	drmap *service.DrMapService
	env   domain.Environment
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(runs *repository.RunRepository, drmap *service.DrMapService, env domain.Environment) *AdminHandler {
	return &AdminHandler{runs: runs, drmap: drmap, env: env}
}

// ListRuns returns the most recently finished reload runs, newest first.
func (h *AdminHandler) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	runs, err := h.runs.Recent(ctx, limit)
	if err != nil {
		logger.CtxError(ctx, "Failed to list runs: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetDrMap returns the active configuration mapping snapshot.
func (h *AdminHandler) GetDrMap(c *gin.Context) {
	m := h.drmap.Current()
	c.JSON(http.StatusOK, gin.H{
		"environment": h.env,
		"prod":        m.Prod,
		"test":        m.Test,
	})
}
