package notes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/gate"
	"github.com/notecompanion/server/internal/shared/middleware"
	"github.com/notecompanion/server/internal/shared/response"
)

// maxAudioUploadBytes caps direct transcription uploads. Larger files
// go through the presigned upload flow.
const maxAudioUploadBytes = 25 << 20

// Handler serves the metered note operations.
type Handler struct {
	service *Service
	gate    *gate.Gate
}

// NewHandler creates a new notes handler.
func NewHandler(service *Service, g *gate.Gate) *Handler {
	return &Handler{service: service, gate: g}
}

// RegisterRoutes registers note operation routes behind the gate.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	tokenGated := h.gate.Middleware(model.ResourceToken)
	audioGated := h.gate.Middleware(model.ResourceAudioMinute)

	r.POST("/classify", tokenGated, h.Classify)
	r.POST("/tags", tokenGated, h.SuggestTags)
	r.POST("/format", tokenGated, h.Format)
	r.POST("/transcribe", audioGated, h.Transcribe)
	r.POST("/transcribe/upload-url", audioGated, h.UploadURL)

	// Reads are not metered: usage and audio playback stay reachable
	// for exhausted or lapsed accounts.
	identified := h.gate.IdentifyMiddleware()
	r.GET("/transcribe/audio-url", identified, h.AudioURL)
	r.GET("/usage", identified, h.Usage)
}

// Classify determines the document type of a note.
// POST /classify
func (h *Handler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID, _ := middleware.GetUserID(c)
	resp, err := h.service.Classify(c.Request.Context(), userID, &req)
	if err != nil {
		response.InternalError(c, "classification failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SuggestTags proposes tags for a note.
// POST /tags
func (h *Handler) SuggestTags(c *gin.Context) {
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID, _ := middleware.GetUserID(c)
	resp, err := h.service.SuggestTags(c.Request.Context(), userID, &req)
	if err != nil {
		response.InternalError(c, "tag suggestion failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Format rewrites a note per an instruction.
// POST /format
func (h *Handler) Format(c *gin.Context) {
	var req FormatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID, _ := middleware.GetUserID(c)
	resp, err := h.service.Format(c.Request.Context(), userID, &req)
	if err != nil {
		response.InternalError(c, "formatting failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Transcribe converts an uploaded audio file to text.
// POST /transcribe
func (h *Handler) Transcribe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAudioUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, "audio file required")
		return
	}
	defer file.Close()

	userID, _ := middleware.GetUserID(c)
	resp, err := h.service.Transcribe(c.Request.Context(), userID, file, header.Filename)
	if err != nil {
		response.InternalError(c, "transcription failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UploadURL presigns an audio upload slot.
// POST /transcribe/upload-url
func (h *Handler) UploadURL(c *gin.Context) {
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID, _ := middleware.GetUserID(c)
	url, err := h.service.UploadURL(c.Request.Context(), userID, &req)
	if err != nil {
		response.InternalError(c, "unable to presign upload")
		return
	}

	c.JSON(http.StatusOK, url)
}

// AudioURL presigns a download for a previously uploaded audio object.
// GET /transcribe/audio-url?key=...
func (h *Handler) AudioURL(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.BadRequest(c, "key required")
		return
	}

	userID, _ := middleware.GetUserID(c)
	url, err := h.service.AudioURL(c.Request.Context(), userID, key)
	if err != nil {
		if errors.Is(err, ErrAudioKeyNotOwned) {
			response.NotFound(c, "audio object not found")
			return
		}
		response.InternalError(c, "unable to presign download")
		return
	}

	c.JSON(http.StatusOK, url)
}

// Usage returns the caller's ledger snapshot.
// GET /usage
func (h *Handler) Usage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	resp, err := h.service.Usage(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "unable to load usage")
		return
	}

	c.JSON(http.StatusOK, resp)
}
