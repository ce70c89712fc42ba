package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/devblac/stackfeed/internal/config"
	"github.com/devblac/stackfeed/internal/events"
	"github.com/devblac/stackfeed/internal/storage"
)

const (
	testCore   = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.betting-market"
	testBettor = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"
)

type fakeClient struct {
	tip     uint64
	txs     []TxSummary
	details map[string]*TxDetail
	fail    map[string]error
	listErr error
}

func (f *fakeClient) ListTransactions(ctx context.Context, contractID string, limit int) ([]TxSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.txs, nil
}

func (f *fakeClient) GetTransaction(ctx context.Context, txID string) (*TxDetail, error) {
	if err := f.fail[txID]; err != nil {
		return nil, err
	}
	d, ok := f.details[txID]
	if !ok {
		return nil, fmt.Errorf("no such tx %s", txID)
	}
	return d, nil
}

func (f *fakeClient) CurrentHeight(ctx context.Context) (uint64, error) {
	return f.tip, nil
}

func newTestPoller(t *testing.T, client TxClient, cfg config.PollerConfig) (*Poller, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	net := config.Network{CoreContract: testCore}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := events.NewHandlerSet(store, "testnet", net, log, nil, nil)
	return New(client, store, handlers, cfg, "testnet", net, log, nil), store
}

func contractLog(repr string) TxEvent {
	ev := TxEvent{Type: EventSmartContractLog, ContractLog: &ContractLog{ContractID: testCore, Topic: "print"}}
	ev.ContractLog.Value.Repr = repr
	return ev
}

func TestCursorCovers(t *testing.T) {
	c := Cursor{Height: 10, TxIndex: 2}
	cases := []struct {
		height uint64
		index  uint32
		want   bool
	}{
		{9, 9, true},
		{10, 1, true},
		{10, 2, true},
		{10, 3, false},
		{11, 0, false},
	}
	for _, tc := range cases {
		if got := c.Covers(tc.height, tc.index); got != tc.want {
			t.Errorf("Covers(%d, %d) = %v, want %v", tc.height, tc.index, got, tc.want)
		}
	}
}

func TestInitStartsFromTipByDefault(t *testing.T) {
	client := &fakeClient{tip: 1234}
	p, store := newTestPoller(t, client, config.PollerConfig{})

	// a stale persisted cursor must be ignored outside cursor mode
	if err := store.UpsertCursor(context.Background(), "testnet", 50, 3); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := p.Position(); got != (Cursor{Height: 1234}) {
		t.Fatalf("position %+v, want tip", got)
	}
}

func TestInitResumesFromPersistedCursor(t *testing.T) {
	client := &fakeClient{tip: 1234}
	p, store := newTestPoller(t, client, config.PollerConfig{Resume: config.ResumeCursor})

	if err := store.UpsertCursor(context.Background(), "testnet", 50, 3); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := p.Position(); got != (Cursor{Height: 50, TxIndex: 3}) {
		t.Fatalf("position %+v, want persisted cursor", got)
	}
}

func TestInitCursorModeFallsBackToTip(t *testing.T) {
	client := &fakeClient{tip: 1234}
	p, _ := newTestPoller(t, client, config.PollerConfig{Resume: config.ResumeCursor})

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := p.Position(); got != (Cursor{Height: 1234}) {
		t.Fatalf("position %+v, want tip", got)
	}
}

func TestRunOnceProcessesInChainOrder(t *testing.T) {
	ctx := context.Background()
	marketRepr := fmt.Sprintf(`(tuple (event "market-created") (market-id u1) (creator '%s) (question "will it rain?") (fee-rate u200))`, testBettor)
	betRepr := fmt.Sprintf(`(tuple (event "bet-placed") (market-id u1) (bettor '%s) (outcome true) (amount u5000000))`, testBettor)

	client := &fakeClient{
		tip: 12,
		// delivered newest first, with noise the cycle must skip
		txs: []TxSummary{
			{TxID: "0xbet", BlockHeight: 11, TxIndex: 0, Status: "success"},
			{TxID: "0xfailed", BlockHeight: 10, TxIndex: 4, Status: "abort_by_response"},
			{TxID: "0xmarket", BlockHeight: 10, TxIndex: 2, Status: "success"},
			{TxID: "0xcovered", BlockHeight: 10, TxIndex: 1, Status: "success"},
		},
		details: map[string]*TxDetail{
			"0xmarket": {TxID: "0xmarket", BlockHeight: 10, TxIndex: 2, Status: "success",
				Events: []TxEvent{contractLog(marketRepr)}},
			"0xbet": {TxID: "0xbet", BlockHeight: 11, TxIndex: 0, Status: "success",
				Events: []TxEvent{contractLog(betRepr)}},
		},
	}
	p, store := newTestPoller(t, client, config.PollerConfig{Resume: config.ResumeCursor})
	if err := store.UpsertCursor(ctx, "testnet", 10, 1); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	// the bet references the market created one transaction earlier, so
	// ordering matters even within one cycle
	if _, ok, _ := store.GetMarket(ctx, 1); !ok {
		t.Fatal("market not projected")
	}
	if n, _ := store.CountBets(ctx, 1); n != 1 {
		t.Fatalf("expected 1 bet, got %d", n)
	}
	if got := p.Position(); got != (Cursor{Height: 11, TxIndex: 0}) {
		t.Fatalf("cursor %+v, want {11 0}", got)
	}
	height, txIndex, ok, err := store.GetCursor(ctx, "testnet")
	if err != nil || !ok || height != 11 || txIndex != 0 {
		t.Fatalf("persisted cursor (%d, %d, %v, %v)", height, txIndex, ok, err)
	}
}

func TestRunOnceHoldsCursorAcrossFailures(t *testing.T) {
	ctx := context.Background()
	marketRepr := fmt.Sprintf(`(tuple (event "market-created") (market-id u2) (creator '%s) (question "q") (fee-rate u100))`, testBettor)

	client := &fakeClient{
		tip: 20,
		txs: []TxSummary{{TxID: "0xaa", BlockHeight: 21, TxIndex: 0, Status: "success"}},
		details: map[string]*TxDetail{
			"0xaa": {TxID: "0xaa", BlockHeight: 21, TxIndex: 0, Status: "success",
				Events: []TxEvent{contractLog(marketRepr)}},
		},
		fail: map[string]error{"0xaa": &StatusError{Code: 502, URL: "http://api"}},
	}
	p, store := newTestPoller(t, client, config.PollerConfig{})
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("failing cycle should degrade, not error: %v", err)
	}
	if got := p.Position(); got != (Cursor{Height: 20}) {
		t.Fatalf("cursor moved past unprocessed tx: %+v", got)
	}
	if _, ok, _ := store.GetMarket(ctx, 2); ok {
		t.Fatal("market projected despite fetch failure")
	}

	// upstream recovers; the next cycle revisits the same transaction
	delete(client.fail, "0xaa")
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if _, ok, _ := store.GetMarket(ctx, 2); !ok {
		t.Fatal("market not projected after recovery")
	}
	if got := p.Position(); got != (Cursor{Height: 21, TxIndex: 0}) {
		t.Fatalf("cursor %+v after recovery", got)
	}
}

func TestRunOnceSkipsForeignAndUnknownEvents(t *testing.T) {
	ctx := context.Background()

	foreign := contractLog(`(tuple (event "market-created") (market-id u9))`)
	foreign.ContractLog.ContractID = "SP000000000000000000002Q6VF78.other-app"
	unknown := contractLog(`(tuple (event "liquidity-added") (amount u1))`)
	undecodable := contractLog(`(tuple (event "bet-placed"`)
	good := contractLog(`(tuple (event "market-resolved") (market-id u3) (outcome false))`)

	client := &fakeClient{
		tip: 30,
		txs: []TxSummary{{TxID: "0xmix", BlockHeight: 31, TxIndex: 0, Status: "success"}},
		details: map[string]*TxDetail{
			"0xmix": {TxID: "0xmix", BlockHeight: 31, TxIndex: 0, Status: "success",
				Events: []TxEvent{foreign, unknown, undecodable, good}},
		},
	}
	p, store := newTestPoller(t, client, config.PollerConfig{})
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := store.UpsertMarket(ctx, storage.Market{ID: 3, Creator: testBettor, Question: "q"}); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if _, ok, _ := store.GetMarket(ctx, 9); ok {
		t.Fatal("foreign contract event was handled")
	}
	m, _, _ := store.GetMarket(ctx, 3)
	if !m.Resolved || m.Outcome {
		t.Fatalf("resolution not projected: %+v", m)
	}
	if got := p.Position(); got != (Cursor{Height: 31, TxIndex: 0}) {
		t.Fatalf("skippable events blocked the cursor: %+v", got)
	}
}

func TestRunOnceSurvivesListFailure(t *testing.T) {
	client := &fakeClient{tip: 5, listErr: &StatusError{Code: 503, URL: "http://api"}}
	p, _ := newTestPoller(t, client, config.PollerConfig{})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("list failure should degrade, not error: %v", err)
	}
}
