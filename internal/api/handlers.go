package api

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veridian-id/go-authn-backend/internal/service"
	"github.com/veridian-id/go-authn-backend/pkg/config"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	services *service.Services
	cfg      *config.Config
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services *service.Services, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		services: services,
		cfg:      cfg,
		logger:   logger.Named("handlers"),
	}
}

// Status handles the /status endpoint
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(200, StatusResponse{
		Status:       "ok",
		Service:      "authn-backend",
		APIVersion:   CurrentAPIVersion,
		Capabilities: APICapabilities[CurrentAPIVersion],
	})
}

func clientInfo(c *gin.Context) service.ClientInfo {
	return service.ClientInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// sessionUserID retrieves the authenticated user from context
func (h *Handlers) sessionUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}

// WebAuthn handlers

// BeginRegistrationRequest starts a registration ceremony for a user
type BeginRegistrationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// StartRegistration begins the registration ceremony
func (h *Handlers) StartRegistration(c *gin.Context) {
	var req BeginRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "user_id is required"})
		return
	}

	options, err := h.services.Auth.BeginRegistration(c.Request.Context(), req.UserID)
	if err != nil {
		h.logger.Error("Failed to start registration", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to start registration"})
		return
	}

	c.JSON(200, options)
}

// FinishRegistrationRequest carries the authenticator's attestation response
type FinishRegistrationRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	Response    json.RawMessage `json:"response" binding:"required"`
	DeviceType  string          `json:"device_type"`
	DisplayName string          `json:"display_name"`
}

// FinishRegistration completes the registration ceremony
func (h *Handlers) FinishRegistration(c *gin.Context) {
	var req FinishRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	credential, err := h.services.Auth.FinishRegistration(
		c.Request.Context(), req.UserID, req.Response, req.DeviceType, req.DisplayName, clientInfo(c))
	if err != nil {
		h.logger.Error("Failed to finish registration", zap.Error(err))
		switch {
		case errors.Is(err, service.ErrChallengeNotFound):
			c.JSON(404, gin.H{"error": "Challenge not found"})
		case errors.Is(err, service.ErrChallengeExpired):
			c.JSON(410, gin.H{"error": "Challenge expired"})
		case errors.Is(err, service.ErrChallengeAlreadyUsed):
			c.JSON(409, gin.H{"error": "Challenge already used"})
		case errors.Is(err, service.ErrDuplicateCredential):
			c.JSON(409, gin.H{"error": "Credential already registered"})
		case errors.Is(err, service.ErrVerificationFailed):
			c.JSON(400, gin.H{"error": "Verification failed"})
		default:
			c.JSON(500, gin.H{"error": "Failed to complete registration"})
		}
		return
	}

	c.JSON(200, gin.H{
		"credential_id": credential.CredentialID,
		"display_name":  credential.DisplayName,
		"created_at":    credential.CreatedAt,
	})
}

// StartAuthentication begins the authentication ceremony. The request is
// anonymous; the credential names its owner in the assertion.
func (h *Handlers) StartAuthentication(c *gin.Context) {
	options, err := h.services.Auth.BeginAuthentication(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to start authentication", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to start authentication"})
		return
	}

	c.JSON(200, options)
}

// FinishAuthenticationRequest carries the authenticator's assertion response
type FinishAuthenticationRequest struct {
	Response json.RawMessage `json:"response" binding:"required"`
}

// FinishAuthentication completes the authentication ceremony
func (h *Handlers) FinishAuthentication(c *gin.Context) {
	var req FinishAuthenticationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	result, err := h.services.Auth.FinishAuthentication(c.Request.Context(), req.Response, clientInfo(c))
	if err != nil {
		h.logger.Error("Failed to finish authentication", zap.Error(err))
		switch {
		case errors.Is(err, service.ErrChallengeNotFound):
			c.JSON(404, gin.H{"error": "Challenge not found"})
		case errors.Is(err, service.ErrChallengeExpired):
			c.JSON(410, gin.H{"error": "Challenge expired"})
		case errors.Is(err, service.ErrChallengeAlreadyUsed):
			c.JSON(409, gin.H{"error": "Challenge already used"})
		case errors.Is(err, service.ErrCredentialNotFound):
			c.JSON(404, gin.H{"error": "Credential not found"})
		case errors.Is(err, service.ErrReplayDetected):
			c.JSON(409, gin.H{"error": "Assertion replay detected"})
		case errors.Is(err, service.ErrTooManyAttempts):
			c.JSON(429, gin.H{"error": "Too many attempts"})
		case errors.Is(err, service.ErrVerificationFailed):
			c.JSON(401, gin.H{"error": "Authentication failed"})
		default:
			c.JSON(500, gin.H{"error": "Failed to complete authentication"})
		}
		return
	}

	c.JSON(200, gin.H{
		"user_id":       result.UserID,
		"credential_id": result.CredentialID,
		"session_token": result.SessionToken,
	})
}

// Recovery handlers

// GenerateRecoveryCodesRequest controls batch regeneration
type GenerateRecoveryCodesRequest struct {
	Regenerate bool `json:"regenerate"`
}

// GenerateRecoveryCodes issues a recovery-code batch for the authenticated
// user. Plaintext codes appear in this response and nowhere else.
func (h *Handlers) GenerateRecoveryCodes(c *gin.Context) {
	userID, ok := h.sessionUserID(c)
	if !ok {
		c.JSON(401, gin.H{"error": "Unauthorized"})
		return
	}

	var req GenerateRecoveryCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Allow empty body
		req = GenerateRecoveryCodesRequest{}
	}

	codes, err := h.services.Auth.GenerateRecoveryCodes(c.Request.Context(), userID, req.Regenerate)
	if err != nil {
		h.logger.Error("Failed to generate recovery codes", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to generate recovery codes"})
		return
	}

	c.JSON(200, gin.H{"codes": codes})
}

// RedeemRecoveryCodeRequest carries a recovery-code login attempt
type RedeemRecoveryCodeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// RedeemRecoveryCode authenticates via a recovery code
func (h *Handlers) RedeemRecoveryCode(c *gin.Context) {
	var req RedeemRecoveryCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	result, err := h.services.Auth.RedeemRecoveryCode(c.Request.Context(), req.UserID, req.Code, clientInfo(c))
	if err != nil {
		h.logger.Error("Failed to redeem recovery code", zap.Error(err))
		// Invalid and exhausted collapse to one message so the response
		// does not reveal whether codes remain.
		if errors.Is(err, service.ErrRecoveryCodeInvalid) || errors.Is(err, service.ErrRecoveryCodeExhausted) {
			c.JSON(401, gin.H{"error": "Invalid recovery code"})
			return
		}
		c.JSON(500, gin.H{"error": "Failed to redeem recovery code"})
		return
	}

	c.JSON(200, gin.H{
		"user_id":       result.UserID,
		"remaining":     result.Remaining,
		"session_token": result.SessionToken,
	})
}

// Credential management handlers

// ListCredentials returns all credentials registered to the authenticated user
func (h *Handlers) ListCredentials(c *gin.Context) {
	userID, ok := h.sessionUserID(c)
	if !ok {
		c.JSON(401, gin.H{"error": "Unauthorized"})
		return
	}
	if c.Param("id") != userID {
		c.JSON(403, gin.H{"error": "Forbidden"})
		return
	}

	credentials, err := h.services.Auth.ListCredentials(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list credentials", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to retrieve credentials"})
		return
	}

	c.JSON(200, gin.H{"credentials": credentials})
}

// RevokeCredential removes one of the authenticated user's credentials
func (h *Handlers) RevokeCredential(c *gin.Context) {
	userID, ok := h.sessionUserID(c)
	if !ok {
		c.JSON(401, gin.H{"error": "Unauthorized"})
		return
	}
	if c.Param("id") != userID {
		c.JSON(403, gin.H{"error": "Forbidden"})
		return
	}

	credentialID := c.Param("credential_id")
	if credentialID == "" {
		c.JSON(400, gin.H{"error": "Credential ID required"})
		return
	}

	err := h.services.Auth.RevokeCredential(c.Request.Context(), userID, credentialID)
	if err != nil {
		if errors.Is(err, service.ErrCredentialNotFound) {
			c.JSON(404, gin.H{"error": "Credential not found"})
			return
		}
		h.logger.Error("Failed to revoke credential", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to revoke credential"})
		return
	}

	c.JSON(200, gin.H{})
}
