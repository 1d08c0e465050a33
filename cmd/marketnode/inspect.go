package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/nft-marketplace/marketnode/internal/config"
	"github.com/nft-marketplace/marketnode/internal/market"
	"github.com/spf13/cobra"
)

type inspectOutput struct {
	Params      market.Params            `json:"params"`
	DataLength  int                      `json:"data_length"`
	Collections []market.CollectionGroup `json:"collections"`
	Views       any                      `json:"views,omitempty"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	address, _ := cmd.Flags().GetString("address")
	viewer, _ := cmd.Flags().GetString("viewer")
	listedOnly, _ := cmd.Flags().GetBool("listed-only")
	summary, _ := cmd.Flags().GetBool("summary")
	render, _ := cmd.Flags().GetBool("render")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(config.Get())
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if summary {
		view, err := a.reconciler.AddressView(ctx, address)
		if err != nil {
			return err
		}
		return enc.Encode(view)
	}

	params := market.Params{Target: address, Viewer: viewer, ListedOnly: listedOnly}
	res, err := a.reconciler.Reconcile(ctx, params)
	if err != nil {
		return err
	}

	out := inspectOutput{
		Params:      params,
		DataLength:  res.DataLength,
		Collections: res.Groups,
	}
	if render {
		out.Views = a.renderer.RenderGroups(ctx, res.Groups)
	}
	return enc.Encode(out)
}
