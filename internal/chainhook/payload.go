package chainhook

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Event category discriminators as delivered by the node-side matcher.
const (
	EventSmartContractLog = "SmartContractEvent"
	EventFTMint           = "FTMintEvent"
	EventFTTransfer       = "FTTransferEvent"
	EventFTBurn           = "FTBurnEvent"
	EventSTXTransfer      = "STXTransferEvent"
)

// Payload is one push delivery: the apply and rollback block sequences
// arrive together and are processed as a single transactional unit.
type Payload struct {
	UUID              string          `json:"uuid"`
	Predicate         json.RawMessage `json:"predicate,omitempty"`
	IsStreamingBlocks bool            `json:"is_streaming_blocks"`
	Apply             []BlockRecord   `json:"apply"`
	Rollback          []BlockRecord   `json:"rollback"`
}

type BlockRecord struct {
	BlockIdentifier BlockIdentifier     `json:"block_identifier"`
	Transactions    []TransactionRecord `json:"transactions"`
}

type BlockIdentifier struct {
	Index uint64 `json:"index"`
	Hash  string `json:"hash"`
}

type TransactionRecord struct {
	TransactionIdentifier TransactionIdentifier `json:"transaction_identifier"`
	Metadata              TransactionMetadata   `json:"metadata"`
}

type TransactionIdentifier struct {
	Hash string `json:"hash"`
}

type TransactionMetadata struct {
	Kind    TransactionKind `json:"kind"`
	Receipt Receipt         `json:"receipt"`
}

// TransactionKind carries the transaction category; deployment
// detection reads Type == "ContractDeployment" and the contract
// identifier from Data.
type TransactionKind struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type Receipt struct {
	Events []RawEvent `json:"events"`
}

// RawEvent is tagged by category; Data's shape depends on Type.
type RawEvent struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Position *EventPosition  `json:"position,omitempty"`
}

// EventPosition is the node-assigned index of the event within its
// transaction's receipt. It matches the explorer's event_index, so both
// ingestion paths key an occurrence identically.
type EventPosition struct {
	Index int `json:"index"`
}

// IndexOr returns the node-assigned event index, or fallback when the
// delivery omits positions.
func (e RawEvent) IndexOr(fallback int) int {
	if e.Position != nil {
		return e.Position.Index
	}
	return fallback
}

// SmartContractEventData is the structured-log category payload. Value
// is pre-decoded when the subscription asked for decoding.
type SmartContractEventData struct {
	ContractIdentifier string `json:"contract_identifier"`
	Topic              string `json:"topic"`
	Value              any    `json:"value"`
}

// AssetEventData covers the fungible-token and native-transfer
// categories; unused fields stay empty per category.
type AssetEventData struct {
	AssetIdentifier string `json:"asset_identifier"`
	Sender          string `json:"sender"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
}

// ParsePayload decodes one inbound delivery.
func ParsePayload(r io.Reader) (*Payload, error) {
	var p Payload
	dec := json.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.UUID == "" {
		return nil, fmt.Errorf("payload missing uuid")
	}
	return &p, nil
}

// DecodeEventData unmarshals a raw event body into dst.
func (e RawEvent) DecodeEventData(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s data: %w", e.Type, err)
	}
	return nil
}

// ParseAmount reads the amount notation used by asset events: a uint
// literal with or without the marker prefix.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "u")
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return n, nil
}
