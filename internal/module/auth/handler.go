package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/notecompanion/server/internal/shared/middleware"
	"github.com/notecompanion/server/internal/shared/response"
)

const oauthStateCookie = "oauth_state"

// Handler handles HTTP requests for authentication and API keys.
type Handler struct {
	service *Service
}

// NewHandler creates a new auth handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers auth and key management routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.GET("/google/login", h.GoogleLogin)
		auth.POST("/google/callback", h.GoogleCallback)
	}

	users := r.Group("/users")
	users.Use(h.SessionMiddleware())
	{
		users.GET("/me", h.GetCurrentUser)
	}

	keys := r.Group("/keys")
	keys.Use(h.SessionMiddleware())
	{
		keys.GET("", h.ListKeys)
		keys.POST("", h.CreateKey)
		keys.DELETE("/:id", h.RevokeKey)
	}
}

// Register creates an email/password account.
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, tokens, err := h.service.Register(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":   user.ToResponse(),
		"tokens": tokens,
	})
}

// Login authenticates an email/password account.
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, tokens, err := h.service.Login(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":   user.ToResponse(),
		"tokens": tokens,
	})
}

// Refresh rotates a refresh token.
// POST /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tokens, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokens)
}

// GoogleLogin starts the Google OAuth flow.
// GET /auth/google/login
func (h *Handler) GoogleLogin(c *gin.Context) {
	state, err := generateState()
	if err != nil {
		response.InternalError(c, "")
		return
	}

	url, err := h.service.GoogleAuthURL(state)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.SetCookie(oauthStateCookie, state, 600, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"auth_url": url, "state": state})
}

// GoogleCallback completes the Google OAuth flow.
// POST /auth/google/callback
func (h *Handler) GoogleCallback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	// The state cookie is absent for non-browser clients, which pass the
	// state they received from /google/login back verbatim.
	if cookieState, err := c.Cookie(oauthStateCookie); err == nil && cookieState != req.State {
		h.handleError(c, ErrInvalidOAuthState)
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", true, true)

	user, tokens, err := h.service.GoogleCallback(c.Request.Context(), req.Code)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":   user.ToResponse(),
		"tokens": tokens,
	})
}

// GetCurrentUser returns the authenticated user's profile.
// GET /users/me
func (h *Handler) GetCurrentUser(c *gin.Context) {
	userID := h.mustUserID(c)

	user, err := h.service.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, user.ToResponse())
}

// ListKeys returns the user's API keys.
// GET /keys
func (h *Handler) ListKeys(c *gin.Context) {
	userID := h.mustUserID(c)

	keys, err := h.service.ListKeys(c.Request.Context(), userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

// CreateKey issues a new API key.
// POST /keys
func (h *Handler) CreateKey(c *gin.Context) {
	userID := h.mustUserID(c)

	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	key, err := h.service.CreateKey(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, key)
}

// RevokeKey deactivates an API key.
// DELETE /keys/:id
func (h *Handler) RevokeKey(c *gin.Context) {
	userID := h.mustUserID(c)

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid key id")
		return
	}

	if err := h.service.RevokeKey(c.Request.Context(), userID, keyID); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SessionMiddleware validates a bearer access token and stores the user
// ID in the request context.
func (h *Handler) SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		userID, err := h.service.ResolveSession(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

// BearerToken extracts the bearer credential from the Authorization
// header.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func (h *Handler) mustUserID(c *gin.Context) uuid.UUID {
	id, _ := middleware.GetUserID(c)
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserAlreadyExists):
		response.Error(c, http.StatusConflict, "email already registered")
	case errors.Is(err, ErrInvalidCredentials):
		response.Unauthorized(c, "invalid email or password")
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(c, "user not found")
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidTokenClaims), errors.Is(err, ErrTokenNotFound):
		response.Unauthorized(c, "invalid token")
	case errors.Is(err, ErrInvalidOAuthState):
		response.BadRequest(c, "invalid oauth state")
	case errors.Is(err, ErrOAuthFailed):
		response.Unauthorized(c, "oauth sign-in failed")
	case errors.Is(err, ErrAPIKeyNotFound):
		response.NotFound(c, "api key not found")
	default:
		response.InternalError(c, "")
	}
}

func generateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
