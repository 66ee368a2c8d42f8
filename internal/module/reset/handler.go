package reset

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/notecompanion/server/internal/shared/config"
	"github.com/notecompanion/server/internal/shared/response"
)

// Handler serves the inbound scheduled-job endpoint.
type Handler struct {
	service *Service
	secret  string
}

// NewHandler creates a new reset handler.
func NewHandler(service *Service, cfg *config.CronConfig) *Handler {
	return &Handler{service: service, secret: cfg.Secret}
}

// RegisterRoutes registers the cron routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/cron/reset", h.RunReset)
}

// RunReset triggers the billing-cycle reset. The caller authenticates
// with a static bearer secret compared in constant time.
// POST /cron/reset
func (h *Handler) RunReset(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		response.Unauthorized(c, "")
		return
	}

	result, appErr := h.service.Run(c.Request.Context())
	if appErr != nil {
		response.AppError(c, appErr)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) authorized(header string) bool {
	if h.secret == "" {
		return false
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
