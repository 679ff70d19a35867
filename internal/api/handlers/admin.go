package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/presence/internal/purge"
	"github.com/your-org/presence/pkg/dto"
)

type Purger interface {
	Run(ctx context.Context, includeIdentities bool) (purge.Result, error)
}

type AdminHandler struct {
	purger Purger
}

func NewAdminHandler(p Purger) *AdminHandler {
	return &AdminHandler{purger: p}
}

// Purge deletes all attendance events, their snapshots and buffered frames.
// With include_identities the roster and enrollment images go too.
func (h *AdminHandler) Purge(c *gin.Context) {
	var req dto.PurgeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	res, err := h.purger.Run(c.Request.Context(), req.IncludeIdentities)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PurgeResponse{Events: res.Events, Identities: res.Identities, Objects: res.Objects})
}
