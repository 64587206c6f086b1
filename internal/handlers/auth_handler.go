package handlers

import (
	"net/http"

	"docstore-cache/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// AuthHandler issues tokens to the configured API user.
type AuthHandler struct {
	credentials *auth.Credentials
	tokens      *auth.Tokens
	log         *zap.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(credentials *auth.Credentials, tokens *auth.Tokens, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{credentials: credentials, tokens: tokens, log: log.Named("auth_handler")}
}

// Login handles the login endpoint
// POST /api/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request. Username and password are required.",
		})
		return
	}

	if err := h.credentials.Verify(req.Username, req.Password); err != nil {
		h.log.Warn("login rejected", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid username or password",
		})
		return
	}

	// Every login is its own client so events and logs can tell sessions apart
	clientID := uuid.NewString()

	token, err := h.tokens.GenerateToken(clientID, req.Username)
	if err != nil {
		h.log.Error("token generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:    token,
		ClientID: clientID,
		Username: req.Username,
		Message:  "Login successful",
	})
}
