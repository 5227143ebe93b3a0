package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"rentmarket/api/internal/apperr"
	"rentmarket/api/internal/auth"
	"rentmarket/api/internal/models"
	"rentmarket/api/internal/utils"
)

const (
	// ContextKeyUserID holds the caller's utils.SixID in the Gin context.
	ContextKeyUserID = "userID"
	// ContextKeyUsername holds the caller's username.
	ContextKeyUsername = "username"
	// ContextKeyRole holds the caller's models.Role.
	ContextKeyRole = "role"
	// ContextKeyIsAdmin holds the caller's admin flag.
	ContextKeyIsAdmin = "isAdmin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   utils.SixID
	Username string
	Role     models.Role
	IsAdmin  bool
}

// CurrentPrincipal returns the caller set by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return Principal{}, false
	}
	id, ok := v.(utils.SixID)
	if !ok {
		return Principal{}, false
	}
	role, _ := c.Get(ContextKeyRole)
	r, _ := role.(models.Role)
	return Principal{
		UserID:   id,
		Username: c.GetString(ContextKeyUsername),
		Role:     r,
		IsAdmin:  c.GetBool(ContextKeyIsAdmin),
	}, true
}

func abortWithKind(c *gin.Context, kind apperr.Kind, msg string) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"error": msg, "kind": kind})
}

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithKind(c, apperr.KindUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortWithKind(c, apperr.KindUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			abortWithKind(c, apperr.KindUnauthorized, "Invalid or expired token")
			return
		}
		userID, err := utils.ParseSixID(claims.UserID)
		if err != nil {
			abortWithKind(c, apperr.KindUnauthorized, "Invalid token subject")
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyIsAdmin, claims.IsAdmin)

		c.Next()
	}
}

// AdminMiddleware requires an admin caller. AuthMiddleware must run first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyIsAdmin) {
			abortWithKind(c, apperr.KindForbidden, "Administrator privileges required")
			return
		}
		c.Next()
	}
}

// RoleMiddleware requires the caller to hold role. Admins always pass.
func RoleMiddleware(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok || (!p.IsAdmin && p.Role != role) {
			abortWithKind(c, apperr.KindForbidden, "Only "+string(role)+"s may do this")
			return
		}
		c.Next()
	}
}
