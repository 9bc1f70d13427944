// Package transport performs outbound HTTP calls described by a Request.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one outbound call. It is the durable payload of a job, so
// every field must survive a JSON round trip.
type Request struct {
	Method  string          `json:"method"`
	URL     string          `json:"url"`
	Header  http.Header     `json:"header,omitempty"`
	Query   url.Values      `json:"query,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Timeout time.Duration   `json:"timeout,omitempty"`
}

const redacted = "[REDACTED]"

// credentialMarkers flag header and query names whose values are never logged.
var credentialMarkers = []string{"auth", "cookie", "token", "secret", "password", "api-key", "apikey", "api_key", "signature"}

func isCredential(name string) bool {
	name = strings.ToLower(name)
	for _, m := range credentialMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Redacted returns a copy of r safe to log: no body, and credential headers
// and query parameters masked.
func (r Request) Redacted() Request {
	r.Body = nil
	r.Header = redactValues(r.Header)
	r.Query = redactValues(r.Query)
	return r
}

func redactValues[M ~map[string][]string](in M) M {
	if in == nil {
		return nil
	}
	out := make(M, len(in))
	for k, vs := range in {
		if isCredential(k) {
			out[k] = []string{redacted}
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs a single call. Implementations return *Error for
// non-2xx responses and network failures.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

type Func func(ctx context.Context, req Request) (*Response, error)

func (f Func) Do(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }
