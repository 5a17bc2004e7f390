package main

import (
	"context"
	"sync"
	"time"

	"brickcache-api/internal/app"
	"brickcache-api/internal/config"
	"brickcache-api/internal/logging"

	"github.com/spf13/cobra"
)

type commandContext struct {
	verbose *bool

	once sync.Once
	app  *app.App
	err  error
}

func (c *commandContext) ensureApp() (*app.App, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		level := "warn"
		if c.verbose != nil && *c.verbose {
			level = "debug"
		}
		logging.Setup(level, true)
		c.app, c.err = app.New(cfg)
	})
	return c.app, c.err
}

func (c *commandContext) close() {
	if c.app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.app.Close(ctx)
}

func newRootCommand() (*cobra.Command, *commandContext) {
	var verbose bool
	ctx := &commandContext{verbose: &verbose}

	rootCmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Inspect and maintain the catalog metadata cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(newRefreshCommand(ctx))
	rootCmd.AddCommand(newLookupCommand(ctx))
	rootCmd.AddCommand(newPriceCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newRunsCommand(ctx))
	rootCmd.AddCommand(newExpireCommand(ctx))

	return rootCmd, ctx
}
