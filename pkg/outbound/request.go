package outbound

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

// Request is the descriptor of one outbound call and the payload of its job.
type Request = transport.Request

type callOptions struct {
	header  http.Header
	query   url.Values
	timeout time.Duration
	layers  []jobqueue.Overrides
}

type CallOption func(*callOptions)

func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

func WithHeaders(h http.Header) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		for k, vs := range h {
			for _, v := range vs {
				o.header.Add(k, v)
			}
		}
	}
}

func WithQuery(q url.Values) CallOption {
	return func(o *callOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range q {
			o.query[k] = append(o.query[k], vs...)
		}
	}
}

// WithTimeout bounds the transport call of this request.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithJobOptions layers ov over the integration's job options for this call.
func WithJobOptions(ov jobqueue.Overrides) CallOption {
	return func(o *callOptions) {
		o.layers = append(o.layers, ov)
	}
}

func WithAttempts(n int) CallOption {
	return WithJobOptions(jobqueue.Overrides{Attempts: n})
}

func WithDelay(d time.Duration) CallOption {
	return WithJobOptions(jobqueue.Overrides{Delay: d})
}

// WithJobID makes the enqueue idempotent: a second call with the same id fails
// with jobqueue.ErrJobExists.
func WithJobID(id string) CallOption {
	return WithJobOptions(jobqueue.Overrides{JobID: id})
}

func applyCallOptions(req Request, opts []CallOption) (Request, []jobqueue.Overrides) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	if len(co.header) > 0 {
		h := req.Header.Clone()
		if h == nil {
			h = http.Header{}
		}
		for k, vs := range co.header {
			h[k] = vs
		}
		req.Header = h
	}
	if len(co.query) > 0 {
		q := url.Values{}
		for k, vs := range req.Query {
			q[k] = append([]string(nil), vs...)
		}
		for k, vs := range co.query {
			q[k] = append(q[k], vs...)
		}
		req.Query = q
	}
	if co.timeout > 0 {
		req.Timeout = co.timeout
	}
	return req, co.layers
}

// encodeBody turns façade data into the JSON body of a request.
func encodeBody(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("body is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("body is not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return b, nil
	}
}
