package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/outbound/pkg/outbound"
)

var methods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodOptions: true, http.MethodDelete: true,
	http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true,
}

func newEnqueueCmd(c *cli) *cobra.Command {
	var (
		data     string
		headers  []string
		attempts int
		delay    time.Duration
		jobID    string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <integration> <method> <url>",
		Short: "Durably record one outbound call",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[1])
			if !methods[method] {
				return withCode(exitUsage, fmt.Errorf("unsupported method %q", args[1]))
			}

			req := outbound.Request{Method: method, URL: args[2]}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return withCode(exitUsage, fmt.Errorf("--data must be valid JSON"))
				}
				req.Body = json.RawMessage(data)
			}

			var opts []outbound.CallOption
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok || strings.TrimSpace(k) == "" {
					return withCode(exitUsage, fmt.Errorf("--header %q must look like 'Name: value'", h))
				}
				opts = append(opts, outbound.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
			}
			if attempts > 0 {
				opts = append(opts, outbound.WithAttempts(attempts))
			}
			if delay > 0 {
				opts = append(opts, outbound.WithDelay(delay))
			}
			if jobID != "" {
				opts = append(opts, outbound.WithJobID(jobID))
			}

			return c.withClient(cmd.Context(), args[0], func(client outbound.Client) error {
				job, err := client.Enqueue(cmd.Context(), req, opts...)
				if err != nil {
					return withCode(exitBroker, err)
				}
				if job == nil {
					return writeJSONLine(c.out, map[string]any{"integration": client.Name(), "enqueued": false, "reason": "disabled"})
				}
				return writeJSONLine(c.out, map[string]any{"integration": client.Name(), "enqueued": true, "job_id": job.ID, "state": job.State})
			})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header, repeatable ('Name: value')")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "override the attempt budget")
	cmd.Flags().DurationVar(&delay, "delay", 0, "hold the job before its first attempt")
	cmd.Flags().StringVar(&jobID, "job-id", "", "idempotency key; a second enqueue with the same id is rejected")
	return cmd
}
