package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgjwt "locshare/backend/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	handlers := []gin.HandlerFunc{AuthMiddleware(secret)}
	if limiter != nil {
		handlers = append(handlers, limiter.Middleware())
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c), "email": Session(c).Email})
	})
	r.GET("/me", handlers...)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	id := uuid.New()
	good, err := pkgjwt.GenerateToken(id, "a@x.com", secret, time.Hour)
	require.NoError(t, err)
	expired, err := pkgjwt.GenerateToken(id, "a@x.com", secret, -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"valid bearer", "Bearer " + good, "", http.StatusOK},
		{"lower-case scheme", "bearer " + good, "", http.StatusOK},
		{"query token", "", "?access_token=" + good, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + good, "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
	}
	r := newRouter(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), id.String())
				assert.Contains(t, w.Body.String(), "a@x.com")
			} else {
				assert.Contains(t, w.Body.String(), `"code":"no_session"`)
			}
		})
	}
}

func TestRateLimiter_PerUser(t *testing.T) {
	limiter := NewRateLimiter(2)
	r := newRouter(limiter)

	tokenFor := func(id uuid.UUID) string {
		tok, err := pkgjwt.GenerateToken(id, "", secret, time.Hour)
		require.NoError(t, err)
		return "Bearer " + tok
	}
	alice, bob := tokenFor(uuid.New()), tokenFor(uuid.New())

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(alice))
	assert.Equal(t, http.StatusOK, do(alice))
	assert.Equal(t, http.StatusTooManyRequests, do(alice))
	assert.Equal(t, http.StatusOK, do(bob))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(1)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))

	now = now.Add(2 * time.Hour)
	limiter.Cleanup(time.Hour)
	assert.Empty(t, limiter.limiters)
	assert.True(t, limiter.Allow("k"))
}
