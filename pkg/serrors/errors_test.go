package serrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseError_IsMatchesByCode(t *testing.T) {
	errA := NewError("A", "first", "")
	errA2 := NewError("A", "second", "")
	errB := NewError("B", "other", "")

	wrapped := fmt.Errorf("context: %w", errA)

	assert.ErrorIs(t, wrapped, errA)
	assert.ErrorIs(t, wrapped, errA2)
	assert.NotErrorIs(t, wrapped, errB)
	assert.Equal(t, "A", Code(wrapped))
	assert.Empty(t, Code(errors.New("plain")))
}
