package main

import (
	"fmt"

	"github.com/devblac/stackfeed/internal/config"
	"github.com/devblac/stackfeed/internal/storage"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted poll cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		height, txIndex, ok, err := store.GetCursor(cmd.Context(), cfg.Network)
		if err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
		if !ok {
			fmt.Fprintf(out, "network %s: no cursor persisted\n", cfg.Network)
			return nil
		}
		fmt.Fprintf(out, "network %s: height %d, tx index %d\n", cfg.Network, height, txIndex)
		return nil
	},
}
