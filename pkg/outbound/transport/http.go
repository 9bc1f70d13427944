package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const CodeInvalidRequest = "invalid_request"

var tracer = otel.Tracer("outbound-transport")

type Config struct {
	// BaseURL is prefixed to relative request URLs.
	BaseURL string
	// Timeout bounds a call unless the request carries its own.
	Timeout time.Duration
	// Header is sent with every request; request headers take precedence.
	Header       http.Header
	MaxIdleConns int
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 100
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

type HTTP struct {
	cfg    Config
	base   *url.URL
	client *http.Client
}

var _ Transport = (*HTTP)(nil)

func NewHTTP(cfg Config) (*HTTP, error) {
	cfg.setDefaults()
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("transport: timeout must be non-negative, got %s", cfg.Timeout)
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("transport: parse base url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("transport: base url %q must be absolute", cfg.BaseURL)
		}
		base = u
	}

	rt := http.DefaultTransport.(*http.Transport).Clone()
	rt.MaxIdleConns = cfg.MaxIdleConns
	rt.MaxIdleConnsPerHost = cfg.MaxIdleConns

	return &HTTP{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Transport: rt},
	}, nil
}

func (t *HTTP) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	target, err := t.resolve(req)
	if err != nil {
		return nil, &Error{Method: method, URL: req.URL, Code: CodeInvalidRequest, Err: err}
	}

	ctx, span := tracer.Start(ctx, "outbound.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", target.String()),
			attribute.String("net.peer.name", target.Host),
		),
	)
	defer span.End()

	timeout := t.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, t.fail(span, &Error{Method: method, URL: req.URL, Code: CodeInvalidRequest, Err: err})
	}
	for k, vs := range t.cfg.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		hreq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if body != nil && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(hreq.Header))

	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, t.fail(span, &Error{Method: method, URL: req.URL, Code: CodeNetwork, Err: err})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxBodyBytes))
	if err != nil {
		return nil, t.fail(span, &Error{Method: method, URL: req.URL, Status: resp.StatusCode, Code: CodeNetwork, Err: err})
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, t.fail(span, &Error{Method: method, URL: req.URL, Status: resp.StatusCode, Body: data, Code: CodeStatus})
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (t *HTTP) fail(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Code)
	return err
}

func (t *HTTP) resolve(req Request) (*url.URL, error) {
	if strings.TrimSpace(req.Method) == "" {
		return nil, fmt.Errorf("method is required")
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if t.base == nil {
			return nil, fmt.Errorf("relative url %q without a base url", req.URL)
		}
		joined := t.base.JoinPath(u.Path)
		joined.RawQuery = u.RawQuery
		u = joined
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}
