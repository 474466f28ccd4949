package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-security/internal/infra/security"
)

const (
	// RolesKey holds the authenticated caller's roles on the gin context.
	RolesKey = "roles"

	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, message, code string) ErrorResponse {
	return ErrorResponse{
		Error:   message,
		Code:    code,
		TraceID: GetTraceID(c),
	}
}

// RequireAdmin verifies the bearer token and requires one of allowedRoles.
// An empty allowedRoles accepts any valid token.
func RequireAdmin(verifier *security.TokenVerifier, allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := verifier.Parse(token)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrExpiredToken):
				abortUnauthorized(c, "access token expired")
			case errors.Is(err, security.ErrSecretMissing):
				c.AbortWithStatusJSON(http.StatusServiceUnavailable,
					newErrorResponse(c, "admin authentication is not configured", CodeUnauthorized))
			default:
				abortUnauthorized(c, "invalid access token")
			}
			return
		}

		roles := claims.AllRoles()
		if len(allowedRoles) > 0 && !hasAnyRole(roles, allowedRoles) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions", CodeForbidden))
			return
		}

		c.Set(UserIDKey, claims.UserID())
		c.Set(RolesKey, roles)
		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.UserID()
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		abortUnauthorized(c, "missing authorization header")
		return "", false
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		abortUnauthorized(c, "invalid authorization format: expected 'Bearer <token>'")
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		abortUnauthorized(c, "missing access token")
		return "", false
	}
	return token, true
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, message, CodeUnauthorized))
}

func hasAnyRole(userRoles []string, requiredRoles []string) bool {
	roleMap := make(map[string]bool, len(userRoles))
	for _, role := range userRoles {
		roleMap[role] = true
	}

	for _, required := range requiredRoles {
		if roleMap[required] {
			return true
		}
	}
	return false
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok && id != "" {
		return id, true
	}

	return "", false
}
