package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/commissions/internal/adapter/tabular"
	"github.com/smallbiznis/commissions/internal/cache"
	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/smallbiznis/commissions/internal/commission"
	"github.com/smallbiznis/commissions/internal/config"
	"github.com/smallbiznis/commissions/internal/eventbus"
	"github.com/smallbiznis/commissions/internal/migration"
	"github.com/smallbiznis/commissions/internal/observability"
	"github.com/smallbiznis/commissions/internal/pipeline"
	"github.com/smallbiznis/commissions/internal/registry"
	"github.com/smallbiznis/commissions/internal/storage"
	"github.com/smallbiznis/commissions/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	root := &cobra.Command{
		Use:           "commissions",
		Short:         "Reconcile manufacturer commission reports into resolved commission records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newProcessCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newVariantsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// coreModules wires everything a pipeline run needs.
func coreModules() fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,
		cache.Module,
		eventbus.Module,
		storage.Module,

		// Functional Domains
		commission.Module,
		registry.Module,
		tabular.Module,
		pipeline.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
