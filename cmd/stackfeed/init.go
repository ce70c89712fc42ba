package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1
network: testnet

global:
  db_path: stackfeed.db

networks:
  testnet:
    core_contract: ST000000000000000000002AMW42H.betting-market
    token_contract: ""
    start_block: 0
  mainnet:
    core_contract: SP000000000000000000002Q6VF78.betting-market
    token_contract: ""
    start_block: 0

api:
  base_url: ${STACKS_API_URL}
  key: ${STACKS_API_KEY}

poller:
  enabled: true
  interval_ms: 10000
  page_size: 50
  resume: cursor
  retry:
    max_attempts: 5
    base_delay_ms: 500

chainhook:
  enabled: false
  node_url: http://localhost:20456
  auth_token: ${CHAINHOOK_AUTH_TOKEN}
  callback_url: http://localhost:3999/events
  listen_addr: :3999

notify:
  url: ""
  method: POST
  template: ""
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite existing %s", path)
		}
		if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "init: wrote %s\n", path)
		return nil
	},
}
