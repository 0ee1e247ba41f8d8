package main

import (
	"fmt"

	"github.com/samvad-hq/audiobook-herald/internal/app"
	"github.com/samvad-hq/audiobook-herald/internal/config"
	"github.com/samvad-hq/audiobook-herald/internal/logger"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries the state shared by subcommands once the root has loaded config.
type cli struct {
	ledgerPath string
	cfg        *config.Config
	log        logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "herald",
		Short:         "Discover new Audible listings and announce them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.ledgerPath, "ledger", "", "ledger path (overrides LEDGER_PATH)")

	root.AddCommand(
		c.discoverCmd(),
		c.announceCmd(),
		c.repairCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "herald %s\n", version)
			},
		},
	)
	return root
}

// setup loads config and the logger. It runs per command so `version` needs
// neither.
func (c *cli) setup(cmd *cobra.Command) (*app.Herald, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg.WithLedgerPath(c.ledgerPath)

	log, err := logger.Init(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	c.log = log

	logger.InfoObj("herald starting", "command_meta", map[string]any{
		"command":     cmd.Name(),
		"version":     version,
		"ledger_type": c.cfg.LedgerType,
		"ledger_path": c.cfg.LedgerPath,
	})

	return app.NewHerald(c.cfg, c.log, app.WithReportWriter(cmd.OutOrStdout()))
}

func (c *cli) discoverCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Extract catalog pages and record new listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := c.setup(cmd)
			if err != nil {
				return err
			}
			if _, err := h.Discover(cmd.Context(), dryRun); err != nil {
				logger.ErrorObj("discover failed", "error", err.Error())
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be recorded without writing")
	return cmd
}

func (c *cli) announceCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Post every unposted listing to the configured notifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := c.setup(cmd)
			if err != nil {
				return err
			}
			if _, err := h.Announce(cmd.Context(), dryRun); err != nil {
				logger.ErrorObj("announce failed", "error", err.Error())
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the messages without sending or recording them")
	return cmd
}

func (c *cli) repairCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Strip query strings from ledger links and drop duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := c.setup(cmd)
			if err != nil {
				return err
			}
			rep, err := h.Repair(cmd.Context(), output)
			if err != nil {
				logger.ErrorObj("repair failed", "error", err.Error())
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repair complete: %d row(s) -> %d, %d link(s) cleaned, %d duplicate(s) removed\n",
				rep.Before, rep.After, rep.URLsCleaned, rep.DuplicatesRemoved)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "write the repaired ledger here instead of in place")
	return cmd
}
