package tier

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/shared/response"
)

// Handler serves the public tier catalog.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a new tier handler.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes registers tier routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tiers", h.ListTiers)
}

// ListTiers returns the active tier catalog.
// GET /tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers, err := h.catalog.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, "unable to load tiers")
		return
	}

	responses := make([]model.TierResponse, len(tiers))
	for i, t := range tiers {
		responses[i] = t.ToResponse()
	}

	c.JSON(http.StatusOK, gin.H{"tiers": responses})
}
