package auth

import (
	"net/http"
	"strings"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/logging"
	pkgjwt "locshare/backend/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	userIDKey  = "userID"
	sessionKey = "session"
)

// AuthMiddleware verifies the bearer token issued by the auth provider and
// stores the caller's identity in the gin context. WebSocket clients that
// cannot set headers may pass the token as the access_token query parameter.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			abort(c, "Authorization header is required")
			return
		}

		session, err := pkgjwt.ParseToken(tokenString, secret)
		if err != nil {
			logging.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected token")
			abort(c, "Invalid or expired token")
			return
		}

		c.Set(userIDKey, session.UserID)
		c.Set(sessionKey, session)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("access_token")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": apperror.CodeNoSession})
}

// UserID returns the authenticated caller, or uuid.Nil outside AuthMiddleware.
func UserID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// Session returns the verified session, or the zero value outside AuthMiddleware.
func Session(c *gin.Context) pkgjwt.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return pkgjwt.Session{}
	}
	s, _ := v.(pkgjwt.Session)
	return s
}
