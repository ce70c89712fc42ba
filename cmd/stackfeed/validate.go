package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/devblac/stackfeed/internal/config"
	"github.com/spf13/cobra"
)

const defaultHTTPTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping upstream endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, network %s)\n", cfg.Version, cfg.Network)

		client := &http.Client{Timeout: defaultHTTPTimeout}
		failures := 0

		if cfg.Poller.Enabled {
			height, err := pingExplorer(cmd.Context(), client, cfg.API)
			if err != nil {
				failures++
				fmt.Fprintf(out, "- explorer api: ERROR %v\n", err)
			} else {
				fmt.Fprintf(out, "- explorer api: tip height %d OK\n", height)
			}
		}

		if cfg.Chainhook.Enabled {
			if err := pingChainhookNode(cmd.Context(), client, cfg.Chainhook.NodeURL); err != nil {
				failures++
				fmt.Fprintf(out, "- chainhook node: ERROR %v\n", err)
			} else {
				fmt.Fprintf(out, "- chainhook node: OK\n")
			}
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d endpoint(s) failed connectivity", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingExplorer(ctx context.Context, client *http.Client, cfg config.APIConfig) (uint64, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/blocks?limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cfg.Key != "" {
		req.Header.Set("x-api-key", cfg.Key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call blocks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Height uint64 `json:"height"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if len(body.Results) == 0 {
		return 0, fmt.Errorf("empty block list")
	}
	return body.Results[0].Height, nil
}

func pingChainhookNode(ctx context.Context, client *http.Client, baseURL string) error {
	url := strings.TrimRight(baseURL, "/") + "/ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
