package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSigner(t *testing.T) {
	t.Parallel()

	secret := []byte("shh")
	now := time.Unix(1_700_000_000, 0)

	var seen Request
	next := Func(func(_ context.Context, req Request) (*Response, error) {
		seen = req
		return &Response{Status: http.StatusOK}, nil
	})
	tr := WithSigner(next, SignerConfig{Secret: secret, Now: func() time.Time { return now }})

	orig := Request{
		Method: http.MethodPost,
		URL:    "/hooks",
		Header: http.Header{"X-Tenant": {"acme"}},
		Body:   json.RawMessage(`{"id":1}`),
	}
	_, err := tr.Do(context.Background(), orig)
	require.NoError(t, err)

	header := seen.Header.Get(DefaultSignatureHeader)
	require.NotEmpty(t, header)
	assert.Equal(t, "acme", seen.Header.Get("X-Tenant"))
	assert.Empty(t, orig.Header.Get(DefaultSignatureHeader), "caller header must not be mutated")

	require.NoError(t, VerifySignature(secret, header, orig.Body, now.Add(time.Minute), 5*time.Minute))
	require.ErrorIs(t, VerifySignature(secret, header, []byte(`{"id":2}`), now, 0), ErrSignatureInvalid)
	require.ErrorIs(t, VerifySignature([]byte("other"), header, orig.Body, now, 0), ErrSignatureInvalid)
	require.ErrorIs(t, VerifySignature(secret, header, orig.Body, now.Add(time.Hour), 5*time.Minute), ErrSignatureExpired)
	require.ErrorIs(t, VerifySignature(secret, "", orig.Body, now, 0), ErrSignatureMissing)
	require.ErrorIs(t, VerifySignature(secret, "v1=abc", orig.Body, now, 0), ErrSignatureMissing)
}

func TestWithSigner_NilHeader(t *testing.T) {
	t.Parallel()

	var seen Request
	tr := WithSigner(Func(func(_ context.Context, req Request) (*Response, error) {
		seen = req
		return &Response{Status: http.StatusNoContent}, nil
	}), SignerConfig{Secret: []byte("k"), Header: "X-Sig"})

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: "/ping"})
	require.NoError(t, err)
	assert.Contains(t, seen.Header.Get("X-Sig"), "v1=")
}
