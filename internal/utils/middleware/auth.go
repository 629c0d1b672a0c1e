package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/genforge/server/internal/shared/errors"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// UserIDKey is the context key for user ID.
	UserIDKey = "user_id"
	// RoleKey is the context key for the caller's role.
	RoleKey = "role"
)

// Claims are the JWT claims this service consumes.
type Claims struct {
	UserID uuid.UUID `json:"uid"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTValidator validates bearer tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for HS256 tokens signed with secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken parses and validates a bearer token.
func (v *JWTValidator) ValidateToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// RequireAuth returns a middleware that validates JWT tokens and puts the
// user ID into the gin context.
func RequireAuth(validator *JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			abortWithAppError(c, apperrors.Unauthorized("authorization header required"))
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			abortWithAppError(c, apperrors.Unauthorized("invalid or expired token"))
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RequireAdmin returns a middleware that rejects non-admin callers. It must
// run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != "admin" {
			abortWithAppError(c, &apperrors.AppError{
				Code:       "FORBIDDEN",
				Message:    "admin role required",
				StatusCode: http.StatusForbidden,
				Err:        apperrors.ErrForbidden,
			})
			return
		}
		c.Next()
	}
}

func abortWithAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.StatusCode, apperrors.ErrorResponse{
		Error: apperrors.ErrorDetail{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

// UserID returns the authenticated user ID from the gin context.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get(UserIDKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if header == "" || !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, BearerPrefix)
}
