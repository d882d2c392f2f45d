package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	serial := &pgconn.PgError{Code: "40001"}
	deadlock := &pgconn.PgError{Code: "40P01"}
	plain := errors.New("connection reset")

	assert.Equal(t, "23505", Code(unique))
	assert.Empty(t, Code(plain))
	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(serial))
	assert.True(t, IsSerializationFailure(serial))
	assert.True(t, IsSerializationFailure(deadlock))
	assert.False(t, IsSerializationFailure(plain))
}
