package chainhook

import (
	"github.com/devblac/stackfeed/internal/config"
)

// Subscription binds a stable identifier to a node-side matching
// condition. The UUIDs are part of the deployment contract: the remote
// side keys its delivery state by them, so changing one orphans that
// state. Never reuse or rename.
const (
	SubMarketActivity  = "8f0f2a6e-63f1-4b41-9c4b-aa272e0a9c21"
	SubFeesUpdated     = "1d2ad63a-92a4-4df0-bf21-7cb1f3efab0b"
	SubOracleUpdated   = "63f3cbc3-15c5-4bbb-a6f1-55a25a633bc4"
	SubPauseToggled    = "b4f08de2-20b8-4b7f-9a0e-8c6f9b9e4d02"
	SubTokenEvents     = "c0a1f6a4-7a57-4b51-8af0-3d6e2f6e8a19"
	SubNativeTransfers = "e7a9d1c8-4f02-4f3b-8b6a-91b0c5d74e33"
	SubDeployments     = "5a6b7c8d-0e1f-4a2b-9c3d-4e5f6a7b8c9d"
)

// Subscription is one static predicate definition. Scope is the
// declared condition label used to differentiate admin subscriptions
// in logs; it never depends on event content.
type Subscription struct {
	UUID  string
	Name  string
	Scope string

	condition func(net config.Network) map[string]any
}

// Subscriptions returns the fixed, versioned predicate table for the
// given network identity.
func Subscriptions(net config.Network) []Subscription {
	printEvent := func(contains string) func(config.Network) map[string]any {
		return func(n config.Network) map[string]any {
			c := map[string]any{
				"scope":               "print_event",
				"contract_identifier": n.CoreContract,
			}
			if contains != "" {
				c["contains"] = contains
			}
			return c
		}
	}

	subs := []Subscription{
		{
			UUID:      SubMarketActivity,
			Name:      "market-activity",
			Scope:     "print_event",
			condition: printEvent(""),
		},
		{
			UUID:      SubFeesUpdated,
			Name:      "admin-fees",
			Scope:     "fees-updated",
			condition: printEvent("fees-updated"),
		},
		{
			UUID:      SubOracleUpdated,
			Name:      "admin-oracle",
			Scope:     "oracle-updated",
			condition: printEvent("oracle-updated"),
		},
		{
			UUID:      SubPauseToggled,
			Name:      "admin-pause",
			Scope:     "pause-toggled",
			condition: printEvent("pause-toggled"),
		},
		{
			UUID:  SubNativeTransfers,
			Name:  "native-transfers",
			Scope: "stx_event",
			condition: func(n config.Network) map[string]any {
				return map[string]any{
					"scope":   "stx_event",
					"actions": []string{"transfer"},
				}
			},
		},
		{
			UUID:  SubDeployments,
			Name:  "deployments",
			Scope: "contract_deployment",
			condition: func(n config.Network) map[string]any {
				return map[string]any{
					"scope":    "contract_deployment",
					"deployer": deployerOf(n.CoreContract),
				}
			},
		},
	}

	if net.TokenContract != "" {
		subs = append(subs, Subscription{
			UUID:  SubTokenEvents,
			Name:  "token-events",
			Scope: "ft_event",
			condition: func(n config.Network) map[string]any {
				return map[string]any{
					"scope":            "ft_event",
					"asset_identifier": n.TokenContract,
					"actions":          []string{"mint", "transfer", "burn"},
				}
			},
		})
	}

	return subs
}

// Definition builds the registration body sent to the matching service.
func (s Subscription) Definition(networkName string, net config.Network, ch config.ChainhookConfig) map[string]any {
	spec := map[string]any{
		"if_this": s.condition(net),
		"then_that": map[string]any{
			"http_post": map[string]any{
				"url":                  ch.CallbackURL,
				"authorization_header": "Bearer " + ch.AuthToken,
			},
		},
		"decode_clarity_values": true,
	}
	if net.StartBlock > 0 {
		spec["start_block"] = net.StartBlock
	}

	return map[string]any{
		"uuid":    s.UUID,
		"name":    s.Name,
		"version": 1,
		"chain":   "stacks",
		"networks": map[string]any{
			networkName: spec,
		},
	}
}

// deployerOf strips the contract name from a fully qualified identifier.
func deployerOf(contractID string) string {
	for i := 0; i < len(contractID); i++ {
		if contractID[i] == '.' {
			return contractID[:i]
		}
	}
	return contractID
}
