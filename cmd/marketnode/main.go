package main

import (
	"fmt"
	"os"

	"github.com/nft-marketplace/marketnode/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var Version = "dev" // Overridden by release build script

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "marketnode",
		Short:        "NFT marketplace state reconciler",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyFlags(cmd.Flags()); err != nil {
				return err
			}
			logger, err := newLogger(config.Get().LogZapMode)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
	}

	root.PersistentFlags().String("log-mode", "", "zap logger mode (production, development)")
	root.PersistentFlags().String("eth-node-url", "", "Ethereum JSON-RPC or websocket URL")
	root.PersistentFlags().String("event-source", "", "event source (subgraph, local)")
	root.PersistentFlags().String("subgraph-url", "", "marketplace subgraph GraphQL endpoint")
	root.PersistentFlags().String("marketplace", "", "marketplace contract address")
	root.PersistentFlags().String("sqlite-path", "", "sqlite database file")
	root.PersistentFlags().String("badger-path", "", "badger directory")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reconciled marketplace state over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("port", 0, "HTTP port")
	serveCmd.Flags().Int("refresh-interval", 0, "seconds between refresh cycles")
	root.AddCommand(serveCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run one reconciliation and print it as JSON",
		RunE:  runInspect,
	}
	inspectCmd.Flags().String("address", "", "address whose tokens are shown")
	inspectCmd.Flags().String("viewer", "", "connected account")
	inspectCmd.Flags().Bool("listed-only", false, "only currently listed tokens")
	inspectCmd.Flags().Bool("summary", false, "print the address summary instead of the collection view")
	inspectCmd.Flags().Bool("render", false, "fetch token metadata and print display cards")
	root.AddCommand(inspectCmd)

	dumpCmd := &cobra.Command{
		Use:   "dump-kv",
		Short: "Print the badger store (block hashes, watcher progress, metadata cache)",
		RunE:  runDumpKV,
	}
	dumpCmd.Flags().String("prefix", "marketnode:", "only keys with this prefix")
	root.AddCommand(dumpCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
	root.AddCommand(versionCmd)

	return root
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(flags *pflag.FlagSet) error {
	var err error
	config.Override(func(c *config.Config) {
		flags.Visit(func(f *pflag.Flag) {
			if err != nil {
				return
			}
			switch f.Name {
			case "log-mode":
				c.LogZapMode = f.Value.String()
			case "eth-node-url":
				c.EthereumNodeUrl = f.Value.String()
			case "event-source":
				c.EventSource = f.Value.String()
			case "subgraph-url":
				c.SubgraphUrl = f.Value.String()
			case "marketplace":
				c.MarketplaceContract = f.Value.String()
			case "sqlite-path":
				c.SqlitePath = f.Value.String()
			case "badger-path":
				c.BadgerPath = f.Value.String()
			case "port":
				c.RPCPort, err = flags.GetInt("port")
			case "refresh-interval":
				c.RefreshIntervalSeconds, err = flags.GetInt("refresh-interval")
			}
		})
	})
	return err
}

func newLogger(mode string) (*zap.Logger, error) {
	switch mode {
	case "development":
		return zap.NewDevelopment()
	case "", "production":
		return zap.NewProduction()
	default:
		return nil, fmt.Errorf("unknown LOG_ZAP_MODE %q", mode)
	}
}
