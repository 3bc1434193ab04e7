package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"locshare/backend/internal/apperror"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperror.Kind
	}{
		{"record not found", gorm.ErrRecordNotFound, apperror.KindNotFound},
		{"connection exception", &pgconn.PgError{Code: "08006"}, apperror.KindTransientIO},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, apperror.KindTransientIO},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, apperror.KindTransientIO},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), apperror.KindTransientIO},
		{"deadline", context.DeadlineExceeded, apperror.KindTransientIO},
		{"check violation", &pgconn.PgError{Code: "23514"}, apperror.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err, apperror.CodeEdgeNotFound, "op")
			assert.Equal(t, tt.kind, apperror.KindOf(got))
		})
	}
}

func TestTranslate_NilStaysNil(t *testing.T) {
	assert.NoError(t, translate(nil, apperror.CodeEdgeNotFound, "op"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("23505")))
}
