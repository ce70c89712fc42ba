package chainhook

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/devblac/stackfeed/internal/config"
	"github.com/devblac/stackfeed/internal/events"
	"github.com/devblac/stackfeed/internal/storage"
)

const (
	testCore   = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.betting-market"
	testToken  = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.market-token::mtk"
	testBettor = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"
)

func newTestAdapter(t *testing.T, log *slog.Logger) (*Adapter, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	net := config.Network{CoreContract: testCore, TokenContract: testToken}
	handlers := events.NewHandlerSet(store, "testnet", net, log, nil, nil)
	return NewAdapter(handlers, log, nil), store
}

func rawEvent(t *testing.T, eventType string, data any) RawEvent {
	t.Helper()
	body, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	return RawEvent{Type: eventType, Data: body}
}

func printEvent(t *testing.T, value map[string]any) RawEvent {
	return rawEvent(t, EventSmartContractLog, SmartContractEventData{
		ContractIdentifier: testCore,
		Topic:              "print",
		Value:              value,
	})
}

func blockWith(height uint64, txID string, evs ...RawEvent) BlockRecord {
	return BlockRecord{
		BlockIdentifier: BlockIdentifier{Index: height, Hash: "0xblock"},
		Transactions: []TransactionRecord{{
			TransactionIdentifier: TransactionIdentifier{Hash: txID},
			Metadata:              TransactionMetadata{Receipt: Receipt{Events: evs}},
		}},
	}
}

func TestPrintEventsApplyAndRollback(t *testing.T) {
	a, store := newTestAdapter(t, discardLogger())
	ctx := context.Background()
	sub := Subscription{UUID: SubMarketActivity, Name: "market-activity"}
	handle := a.PrintEvents("")

	created := map[string]any{
		"event":     "market-created",
		"market-id": "u4",
		"creator":   testBettor,
		"question":  "will it rain?",
		"fee-rate":  "u150",
	}
	apply := &Payload{UUID: SubMarketActivity, Apply: []BlockRecord{blockWith(90, "0xaa", printEvent(t, created))}}
	if err := handle(ctx, sub, apply); err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	m, ok, err := store.GetMarket(ctx, 4)
	if err != nil || !ok {
		t.Fatalf("market not projected: ok=%v err=%v", ok, err)
	}
	if m.Creator != testBettor || m.FeeRate != 150 {
		t.Fatalf("unexpected market: %+v", m)
	}

	undo := &Payload{UUID: SubMarketActivity, Rollback: []BlockRecord{blockWith(90, "0xaa", printEvent(t, created))}}
	if err := handle(ctx, sub, undo); err != nil {
		t.Fatalf("rollback batch: %v", err)
	}
	if _, ok, _ := store.GetMarket(ctx, 4); ok {
		t.Fatal("rollback did not remove the market")
	}
}

func TestPrintEventsSkipsUnknownDiscriminators(t *testing.T) {
	a, store := newTestAdapter(t, discardLogger())
	ctx := context.Background()
	handle := a.PrintEvents("")

	p := &Payload{UUID: SubMarketActivity, Apply: []BlockRecord{blockWith(91, "0xbb",
		printEvent(t, map[string]any{"event": "liquidity-added", "amount": "u1"}),
		printEvent(t, map[string]any{"event": "market-created", "market-id": "u5", "creator": testBettor, "question": "q", "fee-rate": "u100"}),
	)}}
	if err := handle(ctx, Subscription{UUID: SubMarketActivity}, p); err != nil {
		t.Fatalf("batch with unknown event: %v", err)
	}
	if _, ok, _ := store.GetMarket(ctx, 5); !ok {
		t.Fatal("known event after unknown one was dropped")
	}
}

func TestPrintEventsScopeOverride(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	a, _ := newTestAdapter(t, log)
	ctx := context.Background()

	handle := a.PrintEvents("fees-updated")
	p := &Payload{UUID: SubFeesUpdated, Apply: []BlockRecord{blockWith(92, "0xcc",
		printEvent(t, map[string]any{"event": "fees-updated", "new-rate": "u300"}),
	)}}
	if err := handle(ctx, Subscription{UUID: SubFeesUpdated, Scope: "fees-updated"}, p); err != nil {
		t.Fatalf("admin batch: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("scope=fees-updated")) {
		t.Fatalf("scope label missing from log: %s", buf.String())
	}
}

func TestPrintEventsKeyOccurrencesByNodeIndex(t *testing.T) {
	a, store := newTestAdapter(t, discardLogger())
	ctx := context.Background()
	handle := a.PrintEvents("")

	// the pull path keys the same occurrence by the explorer's
	// event_index; a delivery carrying positions must use them, not the
	// receipt slice order
	ev := printEvent(t, map[string]any{
		"event": "market-created", "market-id": "u6", "creator": testBettor, "question": "q", "fee-rate": "u100",
	})
	ev.Position = &EventPosition{Index: 5}

	p := &Payload{UUID: SubMarketActivity, Apply: []BlockRecord{blockWith(96, "0xab", ev)}}
	if err := handle(ctx, Subscription{UUID: SubMarketActivity}, p); err != nil {
		t.Fatalf("apply batch: %v", err)
	}

	marked, err := store.IsProcessed(ctx, "0xab:5:market-created:apply")
	if err != nil {
		t.Fatalf("check mark: %v", err)
	}
	if !marked {
		t.Fatal("occurrence not keyed by the node-assigned event index")
	}
}

func TestTokenEventsProjectFlows(t *testing.T) {
	a, store := newTestAdapter(t, discardLogger())
	ctx := context.Background()
	handle := a.TokenEvents()

	mint := rawEvent(t, EventFTMint, AssetEventData{
		AssetIdentifier: testToken,
		Recipient:       testBettor,
		Amount:          "u2000000",
	})
	p := &Payload{UUID: SubTokenEvents, Apply: []BlockRecord{blockWith(93, "0xdd", mint)}}
	if err := handle(ctx, Subscription{UUID: SubTokenEvents}, p); err != nil {
		t.Fatalf("token batch: %v", err)
	}
	if got := countRows(t, store, "token_flows"); got != 1 {
		t.Fatalf("expected 1 token flow, got %d", got)
	}

	undo := &Payload{UUID: SubTokenEvents, Rollback: []BlockRecord{blockWith(93, "0xdd", mint)}}
	if err := handle(ctx, Subscription{UUID: SubTokenEvents}, undo); err != nil {
		t.Fatalf("token rollback: %v", err)
	}
	if got := countRows(t, store, "token_flows"); got != 0 {
		t.Fatalf("rollback left %d token flows", got)
	}
}

func TestNativeTransfersFilterBySender(t *testing.T) {
	a, store := newTestAdapter(t, discardLogger())
	ctx := context.Background()
	handle := a.NativeTransfers()

	noise := rawEvent(t, EventSTXTransfer, AssetEventData{Sender: testBettor, Recipient: testCore, Amount: "500"})
	suspect := rawEvent(t, EventSTXTransfer, AssetEventData{Sender: testCore, Recipient: testBettor, Amount: "9000000"})
	p := &Payload{UUID: SubNativeTransfers, Apply: []BlockRecord{blockWith(94, "0xee", noise, suspect)}}
	if err := handle(ctx, Subscription{UUID: SubNativeTransfers}, p); err != nil {
		t.Fatalf("transfer batch: %v", err)
	}
	if got := countRows(t, store, "anomalies"); got != 1 {
		t.Fatalf("expected 1 anomaly, got %d", got)
	}
}

func TestDeploymentsFromTransactionKind(t *testing.T) {
	a, store := newTestAdapter(t, discardLogger())
	ctx := context.Background()
	handle := a.Deployments()

	p := &Payload{UUID: SubDeployments, Apply: []BlockRecord{{
		BlockIdentifier: BlockIdentifier{Index: 95, Hash: "0xblock"},
		Transactions: []TransactionRecord{{
			TransactionIdentifier: TransactionIdentifier{Hash: "0xff"},
			Metadata: TransactionMetadata{Kind: TransactionKind{
				Type: "ContractDeployment",
				Data: map[string]any{"contract_identifier": testCore},
			}},
		}},
	}}}
	if err := handle(ctx, Subscription{UUID: SubDeployments}, p); err != nil {
		t.Fatalf("deployment batch: %v", err)
	}
	if got := countRows(t, store, "deployments"); got != 1 {
		t.Fatalf("expected 1 deployment, got %d", got)
	}
}

func TestWireRouterCoversSubscriptionTable(t *testing.T) {
	a, _ := newTestAdapter(t, discardLogger())
	net := config.Network{CoreContract: testCore, TokenContract: testToken}
	subs := Subscriptions(net)
	r := NewRouter(discardLogger())
	a.WireRouter(r, subs)

	if len(r.handlers) != len(subs) {
		t.Fatalf("wired %d of %d subscriptions", len(r.handlers), len(subs))
	}
	for _, sub := range subs {
		if err := r.Route(context.Background(), sub.UUID, &Payload{UUID: sub.UUID}); err != nil {
			t.Fatalf("subscription %s: %v", sub.Name, err)
		}
	}
}

func countRows(t *testing.T, store *storage.Store, table string) int {
	t.Helper()
	var n int
	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return tx.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	})
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
