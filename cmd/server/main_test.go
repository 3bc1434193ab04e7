package main

import (
	"net/http/httptest"
	"testing"

	"locshare/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ConfigErrorsAreReturned(t *testing.T) {
	err := run(&config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	err = run(&config.Config{JWTSecret: "secret", RedisURL: "not-a-redis-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestCheckOrigin(t *testing.T) {
	assert.Nil(t, checkOrigin(nil))

	req := httptest.NewRequest("GET", "/api/v1/stream", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.True(t, checkOrigin([]string{"https://a.example", "*"})(req))

	check := checkOrigin([]string{"https://a.example"})
	assert.False(t, check(req))
	req.Header.Set("Origin", "https://a.example")
	assert.True(t, check(req))
	req.Header.Del("Origin")
	assert.True(t, check(req))
}
