package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/outbound/internal/bootstrap"
	"github.com/iota-uz/outbound/internal/controllers"
	"github.com/iota-uz/outbound/internal/server"
	"github.com/iota-uz/outbound/pkg/configuration"
	"github.com/iota-uz/outbound/pkg/logging"
)

const shutdownTimeout = time.Minute

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger().WithField("service", conf.OpenTelemetry.ServiceName)

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	rt, err := bootstrap.New(conf, logger, bootstrap.Options{Scheduler: true})
	if err != nil {
		log.Fatalf("failed to configure integrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("failed to start integrations: %v", err)
	}

	opts := &server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Integrations:  rt.Registry,
	}
	if rt.Scheduler != nil {
		opts.Scheduler = controllers.JobRunner(rt.Scheduler)
	}
	serverInstance := server.Default(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Listening on: %s", conf.SocketAddress)
		return serverInstance.Start(gctx, conf.SocketAddress)
	})
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down: draining integrations")
		return rt.Close(closeCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("server stopped")
}
