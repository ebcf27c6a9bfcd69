package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gengate/internal/infra"
	"gengate/internal/prefs"
)

// cli bundles the state shared by all commands.
type cli struct {
	cfg     *infra.Config
	logger  infra.Logger
	gateway *gatewayClient
	prefs   *prefs.Store
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	c := &cli{cfg: cfg, logger: logger}

	var gatewayURL string
	root := &cobra.Command{
		Use:           "genctl",
		Short:         "Operator CLI for the media generation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			store, err := prefs.Open(cfg.PrefsPath, &c.logger)
			if err != nil {
				return err
			}
			c.prefs = store

			url := gatewayURL
			if url == "" {
				var saved string
				if found, _ := store.Get(cmd.Context(), "gateway_url", &saved); found {
					url = saved
				}
			}
			if url == "" {
				url = "http://localhost:" + cfg.Port
			}
			c.gateway = newGatewayClient(url)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.prefs != nil {
				_ = c.prefs.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default from prefs, then localhost)")

	root.AddCommand(
		newStatusCmd(c),
		newWorkflowsCmd(c),
		newSubmitCmd(c),
		newWatchCmd(c),
		newFeedCmd(c),
		newDownloadCmd(c),
		newExportCmd(c),
		newPrefsCmd(c),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
