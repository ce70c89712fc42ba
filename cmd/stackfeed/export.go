package main

import (
	"encoding/json"
	"fmt"

	"github.com/devblac/stackfeed/internal/clarity"
	"github.com/devblac/stackfeed/internal/config"
	"github.com/devblac/stackfeed/internal/storage"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export projected markets and bets as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		markets, err := store.ListMarkets(ctx)
		if err != nil {
			return fmt.Errorf("list markets: %w", err)
		}
		bets, err := store.ListBets(ctx)
		if err != nil {
			return fmt.Errorf("list bets: %w", err)
		}

		type exportMarket struct {
			ID       uint64 `json:"id"`
			Creator  string `json:"creator"`
			Question string `json:"question"`
			FeeRate  uint64 `json:"fee_rate"`
			Resolved bool   `json:"resolved"`
			Outcome  *bool  `json:"outcome,omitempty"`
		}
		type exportBet struct {
			MarketID uint64  `json:"market_id"`
			Bettor   string  `json:"bettor"`
			TxID     string  `json:"tx_id"`
			Outcome  bool    `json:"outcome"`
			Amount   float64 `json:"amount"`
			Claimed  bool    `json:"claimed"`
		}

		doc := struct {
			Network string         `json:"network"`
			Markets []exportMarket `json:"markets"`
			Bets    []exportBet    `json:"bets"`
		}{Network: cfg.Network, Markets: []exportMarket{}, Bets: []exportBet{}}

		for _, m := range markets {
			em := exportMarket{
				ID:       m.ID,
				Creator:  m.Creator,
				Question: m.Question,
				FeeRate:  m.FeeRate,
				Resolved: m.Resolved,
			}
			if m.Resolved {
				outcome := m.Outcome
				em.Outcome = &outcome
			}
			doc.Markets = append(doc.Markets, em)
		}
		for _, b := range bets {
			doc.Bets = append(doc.Bets, exportBet{
				MarketID: b.MarketID,
				Bettor:   b.Bettor,
				TxID:     b.TxID,
				Outcome:  b.Outcome,
				Amount:   clarity.ScaleAmount(b.Amount),
				Claimed:  b.Claimed,
			})
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}
