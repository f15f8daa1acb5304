// Command savings-gateway runs the savings layer gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/savings_layer/internal/app"
	"github.com/R3E-Network/savings_layer/internal/config"
	"github.com/R3E-Network/savings_layer/internal/httpapi"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/sponsor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "savings-gateway",
		Short:         "Sponsored transaction relay and read gateway for savings rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	load := func() (*config.Config, error) {
		return config.Load(envFile)
	}

	root.AddCommand(newServeCmd(load), newMigrateCmd(load), newSponsorAddressCmd(load), newSponsorKeygenCmd())
	return root
}

type configLoader func() (*config.Config, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.New(httpapi.ServiceName, cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}

			runErr := application.Run(ctx)
			log.Info(context.Background(), "shutting down", nil)
			if err := application.Shutdown(context.Background()); err != nil {
				log.Error(context.Background(), "shutdown incomplete", err, nil)
			}
			return runErr
		},
	}
}

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the room directory schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			store, err := app.OpenStore(cmd.Context(), cfg.Database, true)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "directory schema applied")
			return nil
		},
	}
}

func newSponsorAddressCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sponsor-address",
		Short: "Print the address derived from the configured sponsor key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			sp, err := sponsor.Parse(cfg.Ledger.SponsorKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sp.Address())
			return nil
		},
	}
}

func newSponsorKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sponsor-keygen",
		Short: "Generate a sponsor key for SPONSOR_PRIVATE_KEY and print it with its address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sp, err := sponsor.Generate(nil)
			if err != nil {
				return err
			}
			key, err := sp.ExportBech32()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SPONSOR_PRIVATE_KEY=%s\n", key)
			fmt.Fprintf(cmd.OutOrStdout(), "address=%s\n", sp.Address())
			return nil
		},
	}
}
