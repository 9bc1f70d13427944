package outbound

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iota-uz/outbound/pkg/jobqueue"
)

type enqueueFunc func(ctx context.Context, req Request, opts ...CallOption) (*jobqueue.Job, error)

// verbs shapes per-method calls into a Request for enqueue. None of them
// waits for the outbound call.
type verbs struct {
	enqueue enqueueFunc
}

func (v verbs) Get(ctx context.Context, url string, opts ...CallOption) error {
	return v.send(ctx, http.MethodGet, url, nil, opts)
}

func (v verbs) Head(ctx context.Context, url string, opts ...CallOption) error {
	return v.send(ctx, http.MethodHead, url, nil, opts)
}

func (v verbs) Options(ctx context.Context, url string, opts ...CallOption) error {
	return v.send(ctx, http.MethodOptions, url, nil, opts)
}

func (v verbs) Delete(ctx context.Context, url string, opts ...CallOption) error {
	return v.send(ctx, http.MethodDelete, url, nil, opts)
}

func (v verbs) Post(ctx context.Context, url string, data any, opts ...CallOption) error {
	return v.send(ctx, http.MethodPost, url, data, opts)
}

func (v verbs) Put(ctx context.Context, url string, data any, opts ...CallOption) error {
	return v.send(ctx, http.MethodPut, url, data, opts)
}

func (v verbs) Patch(ctx context.Context, url string, data any, opts ...CallOption) error {
	return v.send(ctx, http.MethodPatch, url, data, opts)
}

func (v verbs) send(ctx context.Context, method, url string, data any, opts []CallOption) error {
	body, err := encodeBody(data)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	_, err = v.enqueue(ctx, Request{Method: method, URL: url, Body: body}, opts...)
	return err
}
