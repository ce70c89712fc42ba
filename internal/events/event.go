package events

import (
	"fmt"

	"github.com/devblac/stackfeed/internal/clarity"
)

// Direction says whether an event is newly confirmed or being undone
// by a chain reorganization. Rollback events are compensations for
// previously applied data, never forward progress.
type Direction int

const (
	Apply Direction = iota
	Rollback
)

func (d Direction) String() string {
	if d == Rollback {
		return "rollback"
	}
	return "apply"
}

// Kind names a domain event. The values double as the on-chain `event`
// discriminator strings where one exists.
type Kind string

const (
	KindMarketCreated    Kind = "market-created"
	KindMarketResolved   Kind = "market-resolved"
	KindBetPlaced        Kind = "bet-placed"
	KindBetClaimed       Kind = "bet-claimed"
	KindConfigChanged    Kind = "config-changed"
	KindTokenMovement    Kind = "token-movement"
	KindNativeTransfer   Kind = "native-transfer"
	KindContractDeployed Kind = "contract-deployed"
)

// Payload is the tagged union of decoded event bodies. Handlers switch
// on the concrete type; nothing downstream inspects untyped maps.
type Payload interface {
	Kind() Kind
}

// Event is the unit both transports produce. Height, TxID, and Index
// identify the occurrence; together with Direction they form the
// idempotence key.
type Event struct {
	Direction Direction
	Height    uint64
	TxID      string
	Index     int
	Payload   Payload
}

// OccurrenceKey identifies one delivery of this event for dedupe.
func (e Event) OccurrenceKey() string {
	return fmt.Sprintf("%s:%d:%s", e.TxID, e.Index, e.Payload.Kind())
}

// MarketCreated announces a new prediction market.
type MarketCreated struct {
	MarketID uint64
	Creator  string
	Question string
	FeeRate  uint64
}

func (MarketCreated) Kind() Kind { return KindMarketCreated }

// MarketResolved records the oracle's outcome for a market.
type MarketResolved struct {
	MarketID uint64
	Outcome  bool
}

func (MarketResolved) Kind() Kind { return KindMarketResolved }

// BetPlaced is one wager. Amount is raw fixed-point (6 implied decimals).
type BetPlaced struct {
	MarketID uint64
	Bettor   string
	Outcome  bool
	Amount   uint64
}

func (BetPlaced) Kind() Kind { return KindBetPlaced }

// BetClaimed is a winning payout claim. Payout is raw fixed-point.
type BetClaimed struct {
	MarketID uint64
	Claimant string
	Payout   uint64
}

func (BetClaimed) Kind() Kind { return KindBetClaimed }

// ConfigChanged collapses the administrative events (fee changes,
// oracle rotation, pause toggles) onto one shape. Scope carries the
// subscription's declared condition label for logging; it never comes
// from event content.
type ConfigChanged struct {
	Setting string
	Scope   string
	Fields  clarity.Tuple
}

func (ConfigChanged) Kind() Kind { return KindConfigChanged }

// Token movement operations.
const (
	TokenMint     = "mint"
	TokenTransfer = "transfer"
	TokenBurn     = "burn"
)

// TokenMovement is a fungible-token mint, transfer, or burn.
type TokenMovement struct {
	Op        string
	Sender    string
	Recipient string
	Amount    uint64
}

func (TokenMovement) Kind() Kind { return KindTokenMovement }

// NativeTransfer is a native-asset movement. The chain delivers every
// transfer matching the subscription; the handler decides whether the
// sender is one of ours.
type NativeTransfer struct {
	Sender    string
	Recipient string
	Amount    uint64
}

func (NativeTransfer) Kind() Kind { return KindNativeTransfer }

// ContractDeployed marks a watched contract identifier appearing on chain.
type ContractDeployed struct {
	ContractID string
}

func (ContractDeployed) Kind() Kind { return KindContractDeployed }
