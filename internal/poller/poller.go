package poller

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/devblac/stackfeed/internal/clarity"
	"github.com/devblac/stackfeed/internal/config"
	"github.com/devblac/stackfeed/internal/events"
	"github.com/devblac/stackfeed/internal/metrics"
	"github.com/devblac/stackfeed/internal/storage"
)

// Cursor is the poll position: the last fully processed transaction.
// It only moves forward, and only after a transaction's entire event
// set has been routed without error.
type Cursor struct {
	Height  uint64
	TxIndex uint32
}

// Covers reports whether a transaction at (height, txIndex) is at or
// before the cursor and must not be reprocessed.
func (c Cursor) Covers(height uint64, txIndex uint32) bool {
	if height != c.Height {
		return height < c.Height
	}
	return txIndex <= c.TxIndex
}

// TxClient is the subset of the explorer client the poller needs.
type TxClient interface {
	ListTransactions(ctx context.Context, contractID string, limit int) ([]TxSummary, error)
	GetTransaction(ctx context.Context, txID string) (*TxDetail, error)
	CurrentHeight(ctx context.Context) (uint64, error)
}

// Poller reconstructs domain events by re-parsing transaction event
// logs from the explorer API, feeding the same handler set as the push
// path.
type Poller struct {
	client   TxClient
	store    *storage.Store
	handlers *events.HandlerSet
	cfg      config.PollerConfig
	netName  string
	net      config.Network
	log      *slog.Logger
	mtr      *metrics.Metrics

	cursor Cursor
}

func New(client TxClient, store *storage.Store, handlers *events.HandlerSet, cfg config.PollerConfig, netName string, net config.Network, log *slog.Logger, mtr *metrics.Metrics) *Poller {
	return &Poller{
		client:   client,
		store:    store,
		handlers: handlers,
		cfg:      cfg,
		netName:  netName,
		net:      net,
		log:      log,
		mtr:      mtr,
	}
}

// Init positions the cursor. Default is the chain tip: the poller does
// not backfill history across restarts unless resume mode is "cursor"
// and a persisted position exists.
func (p *Poller) Init(ctx context.Context) error {
	if p.cfg.Resume == config.ResumeCursor {
		height, txIndex, ok, err := p.store.GetCursor(ctx, p.netName)
		if err != nil {
			return err
		}
		if ok {
			p.cursor = Cursor{Height: height, TxIndex: txIndex}
			p.log.Info("resuming from persisted cursor", "height", height, "tx_index", txIndex)
			return nil
		}
		p.log.Info("no persisted cursor, falling back to tip")
	}

	tip, err := p.client.CurrentHeight(ctx)
	if err != nil {
		return err
	}
	p.cursor = Cursor{Height: tip, TxIndex: 0}
	p.log.Info("starting from chain tip", "height", tip)
	return nil
}

// Run executes poll cycles at the configured wall-clock interval until
// the context is cancelled. A cycle in progress finishes before
// shutdown completes; no new cycle starts afterwards.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := p.RunOnce(ctx); err != nil {
			return err
		}
		if p.mtr != nil {
			p.mtr.PollCycles()
		}

		timer := time.NewTimer(p.cfg.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce performs one poll cycle. Upstream failures degrade to
// skipping the remainder of the cycle so the loop keeps running; the
// cursor never moves past an unprocessed transaction, so the next
// cycle naturally retries it.
func (p *Poller) RunOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	limit := p.cfg.PageSize
	if limit <= 0 {
		limit = 50
	}

	txs, err := p.client.ListTransactions(ctx, p.net.CoreContract, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		p.log.Warn("transaction list fetch failed", "error", err)
		return nil
	}

	pending := make([]TxSummary, 0, len(txs))
	for _, tx := range txs {
		if tx.Status != "success" {
			continue
		}
		if p.cursor.Covers(tx.BlockHeight, tx.TxIndex) {
			continue
		}
		pending = append(pending, tx)
	}
	// delivery order is not guaranteed by the endpoint; chain order is
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].BlockHeight != pending[j].BlockHeight {
			return pending[i].BlockHeight < pending[j].BlockHeight
		}
		return pending[i].TxIndex < pending[j].TxIndex
	})

	for _, tx := range pending {
		detail, err := p.client.GetTransaction(ctx, tx.TxID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.log.Warn("event log fetch failed, will revisit", "tx_id", tx.TxID, "error", err)
			return nil
		}

		if err := p.routeTransaction(ctx, detail); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.log.Error("routing failed mid-transaction, cursor held", "tx_id", tx.TxID, "error", err)
			return nil
		}

		p.cursor = Cursor{Height: tx.BlockHeight, TxIndex: tx.TxIndex}
		if err := p.store.UpsertCursor(ctx, p.netName, tx.BlockHeight, tx.TxIndex); err != nil {
			p.log.Error("cursor persist failed", "error", err)
			return nil
		}
	}

	return nil
}

// Position returns the current cursor.
func (p *Poller) Position() Cursor {
	return p.cursor
}

// routeTransaction decodes and dispatches every understood event in
// the transaction's log. Any handler error aborts before the cursor
// advances, so the whole set is redelivered next cycle; handlers
// dedupe redelivered occurrences.
func (p *Poller) routeTransaction(ctx context.Context, tx *TxDetail) error {
	for _, raw := range tx.Events {
		if raw.Type != EventSmartContractLog || raw.ContractLog == nil {
			continue
		}
		if !p.watched(raw.ContractLog.ContractID) {
			continue
		}

		tuple, err := clarity.ParseTuple(raw.ContractLog.Value.Repr)
		if err != nil {
			p.log.Error("undecodable contract log",
				"tx_id", tx.TxID,
				"event_index", raw.EventIndex,
				"error", err)
			continue
		}

		payload, err := events.FromTuple(tuple)
		if err != nil {
			if errors.Is(err, events.ErrUnknownEvent) {
				p.log.Debug("skipping unknown event", "tx_id", tx.TxID, "error", err)
				continue
			}
			return err
		}

		ev := events.Event{
			Direction: events.Apply,
			Height:    tx.BlockHeight,
			TxID:      tx.TxID,
			Index:     raw.EventIndex,
			Payload:   payload,
		}
		if err := p.handlers.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) watched(contractID string) bool {
	for _, c := range p.net.Contracts() {
		if contractID == c {
			return true
		}
	}
	return false
}
