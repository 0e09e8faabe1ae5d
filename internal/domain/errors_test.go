package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := E(KindNotFound, "auction 7 not found")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindConflict))

	// Kinds survive wrapping with fmt.Errorf.
	wrapped := fmt.Errorf("bid failed: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindStorageUnavailable, "load site", cause)

	assert.Equal(t, KindStorageUnavailable, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage_unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorMessage(t *testing.T) {
	err := Ef(KindValidation, "timezone %d out of range", 15)
	require.EqualError(t, err, "validation: timezone 15 out of range")
}
