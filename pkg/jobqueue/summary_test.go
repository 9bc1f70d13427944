package jobqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Summarize(nil, 10))
	assert.Equal(t, "hello", Summarize(errors.New("hello world"), 5))
	assert.Equal(t, "hello world", Summarize(errors.New("hello world"), 0))

	joined := errors.Join(errors.New("dial tcp: refused"), errors.New("dial tcp6: unreachable"))
	assert.Equal(t, "dial tcp: refused, dial tcp6: unreachable", Summarize(joined, 2048))
}

func TestTruncateStringKeepsRunes(t *testing.T) {
	t.Parallel()

	// "é" is two bytes; cutting in the middle drops it.
	assert.Equal(t, "caf", Truncate("café", 4))
}
