package main

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/nft-marketplace/marketnode/internal/config"
	"github.com/nft-marketplace/marketnode/internal/db"
	"github.com/spf13/cobra"
)

func runDumpKV(cmd *cobra.Command, _ []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")

	opts := badger.DefaultOptions(config.Get().BadgerPath).WithReadOnly(true)
	opts.Logger = nil
	kv, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger read-only: %w", err)
	}
	defer kv.Close()

	n, err := db.DumpBadger(kv, cmd.OutOrStdout(), prefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dump complete, %d keys.\n", n)
	return nil
}
