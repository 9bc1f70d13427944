package server

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/internal/controllers"
	"github.com/iota-uz/outbound/pkg/configuration"
	"github.com/iota-uz/outbound/pkg/metrics"
	"github.com/iota-uz/outbound/pkg/middleware"
	"github.com/iota-uz/outbound/pkg/scheduler"
	"github.com/iota-uz/outbound/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Entry
	Configuration *configuration.Configuration
	Integrations  scheduler.Integrations
	// Scheduler is nil when cron is disabled; the run endpoint is then not mounted.
	Scheduler controllers.JobRunner
}

// Default assembles the ops server: health, integration inspection, the cron
// run endpoint and, when enabled, the Prometheus scrape path.
func Default(options *DefaultOptions) *server.HTTPServer {
	conf := options.Configuration

	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, middleware.LoggerOptions{
			RequestIDHeader: conf.Ops.RequestIDHeader,
			RealIPHeader:    conf.Ops.RealIPHeader,
		}),
		middleware.OpsGuard(middleware.OpsGuardOptions{
			Enabled:       conf.Ops.GuardEnabled,
			CIDRs:         conf.Ops.GuardCIDRs,
			Token:         conf.Ops.GuardToken,
			BasicAuthUser: conf.Ops.GuardBasicAuthUser,
			BasicAuthPass: conf.Ops.GuardBasicAuthPass,
			RealIPHeader:  conf.Ops.RealIPHeader,
			Public:        []string{"/health"},
		}),
	}

	ctrls := []server.Controller{
		controllers.NewHealthController(options.Integrations),
		controllers.NewOutboundController(options.Integrations),
	}
	if options.Scheduler != nil {
		ctrls = append(ctrls, controllers.NewCronController(options.Scheduler))
	}
	if conf.Prometheus.Enabled {
		ctrls = append(ctrls, metrics.NewPrometheusController(conf.Prometheus.Path, nil))
	}
	return server.NewHTTPServer(ctrls, middlewares)
}
