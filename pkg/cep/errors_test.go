package cep

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Run("KindOf extracts kind through wrapping", func(t *testing.T) {
		err := Errorf(KindConflict, "settle", "envelope %s is not accepted", "env_x")
		wrapped := fmt.Errorf("operation failed: %w", err)

		assert.Equal(t, KindConflict, KindOf(wrapped))
		assert.True(t, IsKind(wrapped, KindConflict))
		assert.False(t, IsKind(wrapped, KindNotFound))
	})

	t.Run("foreign errors report internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	})

	t.Run("wrapped cause is reachable", func(t *testing.T) {
		cause := errors.New("redis down")
		err := WrapError(KindDependencyUnavailable, "offer", "store unavailable", cause)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "dependency_unavailable")
	})
}
