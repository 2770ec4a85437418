package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the pool registry",
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pools whose LP tokens are registered in the farm",
	Long: `List the registry entries for a network. Without --network the
registry.network setting is used, falling back to network.name.

Examples:
  dao-deployer registry list --network polygon`,
	RunE: runRegistryList,
}

func init() {
	registryListCmd.Flags().String("network", "", "registry network to list")
	registryCmd.AddCommand(registryListCmd)
	rootCmd.AddCommand(registryCmd)
}

type registryEntry struct {
	ID        string `json:"id"`
	Pool      string `json:"pool"`
	PoolLP    string `json:"pool_lp"`
	Strategy  string `json:"strategy,omitempty"`
	PriceFeed string `json:"price_feed,omitempty"`
}

func runRegistryList(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cfg.Registry)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("network")
	if name == "" {
		name = registryNetwork(cfg)
	}
	network, err := reg.Network(name)
	if err != nil {
		return fmt.Errorf("%w (available: %v)", err, reg.Networks())
	}

	entries := network.Entries()
	out := make([]registryEntry, len(entries))
	for i, e := range entries {
		out[i] = registryEntry{ID: e.ID, Pool: e.Pool.Hex(), PoolLP: e.PoolLP.Hex()}
		if e.Strategy != nil {
			out[i].Strategy = e.Strategy.Hex()
		}
		if e.PriceFeed != nil {
			out[i].PriceFeed = e.PriceFeed.Hex()
		}
	}

	if jsonOut {
		return printJSON(out)
	}

	if network.DepositToken != nil {
		fmt.Printf("Deposit token: %s\n\n", network.DepositToken.Hex())
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPOOL\tLP TOKEN")
	for _, e := range out {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Pool, e.PoolLP)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d pools, %d distinct LP tokens\n", len(entries), len(network.LPTokens()))
	return nil
}
