package outbound

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/outbound/pkg/jobqueue/memory"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New(memory.Options{})

	r := NewRegistry()
	for _, cfg := range []Config{fastConfig("crm"), {Name: "sms"}} {
		c, err := New(cfg, Dependencies{Connector: store.Connector(), Transport: &scriptedTransport{statuses: []int{200}}})
		require.NoError(t, err)
		require.NoError(t, r.Register(c))
	}

	dup, err := New(Config{Name: "sms"}, Dependencies{})
	require.NoError(t, err)
	require.ErrorIs(t, r.Register(dup), ErrInvalidConfig)

	assert.Equal(t, []string{"crm", "sms"}, r.Names())
	_, err = r.Get("billing")
	require.ErrorIs(t, err, ErrUnknown)

	require.NoError(t, r.Start(ctx))
	crm, err := r.Get("crm")
	require.NoError(t, err)
	assert.Equal(t, StateReady, crm.State())

	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, StateClosed, crm.State())
}
