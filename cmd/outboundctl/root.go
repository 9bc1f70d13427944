package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/outbound/internal/bootstrap"
	"github.com/iota-uz/outbound/pkg/configuration"
	"github.com/iota-uz/outbound/pkg/outbound"
)

// cli carries what every command needs. open returns started integrations
// and a function releasing them.
type cli struct {
	out  io.Writer
	open func(ctx context.Context) (*outbound.Registry, func(), error)
}

func openFromEnv(ctx context.Context) (*outbound.Registry, func(), error) {
	conf, err := configuration.Load(".env", ".env.local")
	if err != nil {
		return nil, nil, withCode(exitConfig, err)
	}
	rt, err := bootstrap.New(conf, conf.Logger().WithField("component", "outboundctl"), bootstrap.Options{NoWorkers: true})
	if err != nil {
		return nil, nil, withCode(exitConfig, err)
	}
	if err := rt.Start(ctx); err != nil {
		_ = rt.Close(context.Background())
		return nil, nil, withCode(exitBroker, err)
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Close(ctx)
	}
	return rt.Registry, release, nil
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "outboundctl",
		Short:         "Enqueue outbound calls and inspect integration queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newEnqueueCmd(c))
	cmd.AddCommand(newStatsCmd(c))
	cmd.AddCommand(newDeadCmd(c))
	return cmd
}

// withClient opens the integrations, resolves name and runs fn against it.
func (c *cli) withClient(ctx context.Context, name string, fn func(outbound.Client) error) error {
	reg, release, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer release()

	client, err := reg.Get(name)
	if err != nil {
		return withCode(exitUsage, err)
	}
	return fn(client)
}

func Execute() {
	c := &cli{out: os.Stdout, open: openFromEnv}
	if err := newRootCmd(c).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
