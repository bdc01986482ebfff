package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainErrorPassesThrough(t *testing.T) {
	original := NewAlreadyClaimed("s-1")

	converted := ToDomainError(original)
	require.NotNil(t, converted)
	assert.Equal(t, "ALREADY_CLAIMED", converted.Code)
	assert.Equal(t, http.StatusConflict, converted.HTTPStatus)
	assert.Equal(t, "s-1", converted.Details["session_id"])
}

func TestToDomainErrorUnwrapsWrapped(t *testing.T) {
	wrapped := fmt.Errorf("claiming session: %w", NewNotClaimable("s-1"))

	converted := ToDomainError(wrapped)
	require.NotNil(t, converted)
	assert.Equal(t, "NOT_CLAIMABLE", converted.Code)
}

func TestToDomainErrorMapsNoRows(t *testing.T) {
	// pgx.ErrNoRows wraps sql.ErrNoRows since pgx v5.5, so both drivers
	// funnel into the same 404.
	converted := ToDomainError(pgx.ErrNoRows)
	require.NotNil(t, converted)
	assert.Equal(t, "NOT_FOUND", converted.Code)
	assert.Equal(t, http.StatusNotFound, converted.HTTPStatus)
}

func TestToDomainErrorWrapsUnknown(t *testing.T) {
	converted := ToDomainError(errors.New("boom"))
	require.NotNil(t, converted)
	assert.Equal(t, "INTERNAL_ERROR", converted.Code)
	assert.Equal(t, http.StatusInternalServerError, converted.HTTPStatus)
	assert.EqualError(t, converted.Err, "boom")
}

func TestToDomainErrorNil(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInternalError(cause)
	assert.True(t, errors.Is(err, cause))
}
