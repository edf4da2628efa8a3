package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// OperatorClaims are the JWT claims for an operator session token used on
// the administrative endpoints.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
	Role     string `json:"role"`
}

// TokenIssuer issues and verifies operator session JWTs signed with the
// configured HMAC secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed operator session token.
func (t *TokenIssuer) Issue(operator string) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Operator: operator,
		Role:     "admin",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator session token.
func (t *TokenIssuer) Verify(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OperatorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("verify operator token: %w", err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid operator token")
	}
	return claims, nil
}

// AuthHandler exchanges the admin secret for operator session tokens.
type AuthHandler struct {
	adminSecretHash string // bcrypt hash of the admin secret
	tokens          *TokenIssuer
	logger          *zap.Logger
}

// NewAuthHandler creates an AuthHandler. adminSecretHash is the bcrypt hash
// of the configured admin secret; empty disables token issuance.
func NewAuthHandler(adminSecretHash string, tokens *TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{adminSecretHash: adminSecretHash, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	Operator string `json:"operator" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if h.adminSecretHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin access not configured"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator and secret are required"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.adminSecretHash), []byte(req.Secret)); err != nil {
		h.logger.Warn("admin token request rejected", zap.String("operator", req.Operator))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	token, err := h.tokens.Issue(req.Operator)
	if err != nil {
		h.logger.Error("token issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// AdminRequired returns a middleware that admits only requests bearing a
// valid operator token.
func AdminRequired(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator token required"})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator token"})
			return
		}
		c.Set("operator", claims.Operator)
		c.Next()
	}
}
