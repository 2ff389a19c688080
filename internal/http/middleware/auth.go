// README: Bearer token auth; the verified uid and role are stored on the gin context.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"wander/internal/infra"
	"wander/internal/types"
)

const (
	ctxKeyUID  = "caller_uid"
	ctxKeyRole = "caller_role"
)

// Auth verifies the bearer token with verifier. Websocket upgrades may pass
// the token as ?token= because browsers cannot set headers on them.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing or malformed authorization header")
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || tok == nil || tok.UID == "" {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Set(ctxKeyUID, tok.UID)
		if role, ok := tok.Claims["role"].(string); ok && role != "" {
			c.Set(ctxKeyRole, strings.ToUpper(role))
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if h == "" && c.IsWebsocket() {
		if q := c.Query("token"); q != "" {
			return q, true
		}
	}
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "kind": "UNAUTHORIZED", "message": msg})
}

// CallerUID returns the authenticated user id, or "" outside Auth.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

// CallerRole returns the caller's role, or "" when unknown.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// RoleLookup resolves a user's role from their profile.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID types.ID) (types.Role, error)
}

// ResolveRole fills the caller role from the profile when the token carried none.
// Users without a profile keep an empty role.
func ResolveRole(lookup RoleLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) == "" {
			if uid := CallerUID(c); uid != "" {
				if role, err := lookup.RoleOf(c.Request.Context(), types.ID(uid)); err == nil && role != "" {
					c.Set(ctxKeyRole, string(role))
				}
			}
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		have := types.Role(CallerRole(c))
		for _, r := range roles {
			if have == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "kind": "FORBIDDEN", "message": "role not permitted"})
	}
}
