package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devblac/stackfeed/internal/clarity"
	"github.com/devblac/stackfeed/internal/config"
	"github.com/devblac/stackfeed/internal/metrics"
	"github.com/devblac/stackfeed/internal/notify"
	"github.com/devblac/stackfeed/internal/storage"
)

// HandlerSet applies domain events to the projection store and emits
// notifications. Both transports feed it, so handlers must be safe
// under at-least-once delivery: every occurrence is keyed and marked,
// and every apply has a compensating rollback.
type HandlerSet struct {
	store    *storage.Store
	netName  string
	net      config.Network
	log      *slog.Logger
	notifier notify.Sender
	mtr      *metrics.Metrics
}

// NewHandlerSet builds the shared handler set. notifier and mtr may be nil.
func NewHandlerSet(store *storage.Store, netName string, net config.Network, log *slog.Logger, notifier notify.Sender, mtr *metrics.Metrics) *HandlerSet {
	return &HandlerSet{
		store:    store,
		netName:  netName,
		net:      net,
		log:      log,
		notifier: notifier,
		mtr:      mtr,
	}
}

// Handle routes one event to its domain logic. Replayed occurrences
// are skipped; rollback clears the apply mark so a later
// re-confirmation of the same transaction can apply again.
func (h *HandlerSet) Handle(ctx context.Context, ev Event) error {
	if p, ok := ev.Payload.(NativeTransfer); ok && !h.watchedSender(p.Sender) {
		// The native-transfer category has no sender filter upstream, so
		// everything not originating from our contracts is expected
		// background noise. No logging.
		return nil
	}

	key := ev.OccurrenceKey()
	own := key + ":" + ev.Direction.String()
	already, err := h.store.IsProcessed(ctx, own)
	if err != nil {
		return err
	}
	if already {
		h.log.Debug("occurrence already processed", "key", key, "direction", ev.Direction.String())
		return nil
	}

	var herr error
	switch p := ev.Payload.(type) {
	case MarketCreated:
		herr = h.marketCreated(ctx, ev, p)
	case MarketResolved:
		herr = h.marketResolved(ctx, ev, p)
	case BetPlaced:
		herr = h.betPlaced(ctx, ev, p)
	case BetClaimed:
		herr = h.betClaimed(ctx, ev, p)
	case ConfigChanged:
		herr = h.configChanged(ctx, ev, p)
	case TokenMovement:
		herr = h.tokenMovement(ctx, ev, p)
	case NativeTransfer:
		herr = h.nativeTransfer(ctx, ev, p)
	case ContractDeployed:
		herr = h.contractDeployed(ctx, ev, p)
	default:
		herr = fmt.Errorf("no handler for payload kind %s", ev.Payload.Kind())
	}
	if herr != nil {
		if h.mtr != nil {
			h.mtr.HandlerErrors()
		}
		return herr
	}

	// mark only after the effect succeeds: a failure anywhere above
	// leaves no mark, so redelivery re-runs the idempotent effect. A
	// mark written first could survive a failed effect and swallow the
	// retry silently.
	opposite := Apply
	if ev.Direction == Apply {
		opposite = Rollback
	}
	if err := h.store.UnmarkProcessed(ctx, key+":"+opposite.String()); err != nil {
		return err
	}
	if _, err := h.store.MarkProcessed(ctx, own); err != nil {
		return err
	}

	if h.mtr != nil {
		h.mtr.EventsRouted()
	}
	return nil
}

func (h *HandlerSet) marketCreated(ctx context.Context, ev Event, p MarketCreated) error {
	if ev.Direction == Rollback {
		h.log.Info("reorg undid market", "market_id", p.MarketID, "tx_id", ev.TxID)
		return h.store.DeleteMarket(ctx, p.MarketID)
	}
	if err := h.store.UpsertMarket(ctx, storage.Market{
		ID:       p.MarketID,
		Creator:  p.Creator,
		Question: p.Question,
		FeeRate:  p.FeeRate,
	}); err != nil {
		return err
	}
	h.log.Info("market created", "market_id", p.MarketID, "creator", p.Creator)
	h.send(ctx, ev, map[string]any{"market_id": p.MarketID, "question": p.Question})
	return nil
}

func (h *HandlerSet) marketResolved(ctx context.Context, ev Event, p MarketResolved) error {
	if ev.Direction == Rollback {
		h.log.Info("reorg undid resolution", "market_id", p.MarketID, "tx_id", ev.TxID)
		return h.store.SetMarketResolution(ctx, p.MarketID, false, false)
	}
	if err := h.store.SetMarketResolution(ctx, p.MarketID, true, p.Outcome); err != nil {
		return err
	}
	h.log.Info("market resolved", "market_id", p.MarketID, "outcome", p.Outcome)
	h.send(ctx, ev, map[string]any{"market_id": p.MarketID, "outcome": p.Outcome})
	return nil
}

func (h *HandlerSet) betPlaced(ctx context.Context, ev Event, p BetPlaced) error {
	if ev.Direction == Rollback {
		h.log.Info("reorg undid bet", "market_id", p.MarketID, "bettor", p.Bettor, "tx_id", ev.TxID)
		return h.store.DeleteBet(ctx, p.MarketID, p.Bettor, ev.TxID)
	}
	if err := h.store.UpsertBet(ctx, storage.Bet{
		MarketID: p.MarketID,
		Bettor:   p.Bettor,
		TxID:     ev.TxID,
		Outcome:  p.Outcome,
		Amount:   p.Amount,
	}); err != nil {
		return err
	}
	h.log.Info("bet placed",
		"market_id", p.MarketID,
		"bettor", p.Bettor,
		"outcome", p.Outcome,
		"amount", clarity.ScaleAmount(p.Amount))
	h.send(ctx, ev, map[string]any{
		"market_id": p.MarketID,
		"bettor":    p.Bettor,
		"amount":    clarity.ScaleAmount(p.Amount),
	})
	return nil
}

func (h *HandlerSet) betClaimed(ctx context.Context, ev Event, p BetClaimed) error {
	if ev.Direction == Rollback {
		h.log.Info("reorg undid claim", "market_id", p.MarketID, "claimant", p.Claimant, "tx_id", ev.TxID)
		return h.store.SetBetClaimed(ctx, p.MarketID, p.Claimant, false)
	}
	if err := h.store.SetBetClaimed(ctx, p.MarketID, p.Claimant, true); err != nil {
		return err
	}
	h.log.Info("bet claimed",
		"market_id", p.MarketID,
		"claimant", p.Claimant,
		"payout", clarity.ScaleAmount(p.Payout))
	h.send(ctx, ev, map[string]any{
		"market_id": p.MarketID,
		"claimant":  p.Claimant,
		"payout":    clarity.ScaleAmount(p.Payout),
	})
	return nil
}

// configChanged has no projection effect; the log line is the product.
// Scope comes from the subscription's declared condition, not from
// event content, so admin subscriptions stay distinguishable even when
// payload shapes drift across protocol versions.
func (h *HandlerSet) configChanged(ctx context.Context, ev Event, p ConfigChanged) error {
	h.log.Info("contract configuration changed",
		"scope", p.Scope,
		"setting", p.Setting,
		"direction", ev.Direction.String(),
		"tx_id", ev.TxID)
	return nil
}

func (h *HandlerSet) tokenMovement(ctx context.Context, ev Event, p TokenMovement) error {
	if ev.Direction == Rollback {
		return h.store.DeleteTokenFlow(ctx, ev.TxID, ev.Index)
	}
	if err := h.store.InsertTokenFlow(ctx, storage.TokenFlow{
		TxID:       ev.TxID,
		EventIndex: ev.Index,
		Op:         p.Op,
		Sender:     p.Sender,
		Recipient:  p.Recipient,
		Amount:     p.Amount,
	}); err != nil {
		return err
	}
	h.log.Debug("token movement",
		"op", p.Op,
		"amount", clarity.ScaleAmount(p.Amount),
		"tx_id", ev.TxID)
	return nil
}

func (h *HandlerSet) nativeTransfer(ctx context.Context, ev Event, p NativeTransfer) error {
	if ev.Direction == Rollback {
		return h.store.DeleteAnomaly(ctx, ev.TxID, ev.Index)
	}
	if err := h.store.InsertAnomaly(ctx, storage.Anomaly{
		TxID:       ev.TxID,
		EventIndex: ev.Index,
		Sender:     p.Sender,
		Recipient:  p.Recipient,
		Amount:     p.Amount,
	}); err != nil {
		return err
	}
	h.log.Warn("unexpected native transfer from watched contract",
		"sender", p.Sender,
		"recipient", p.Recipient,
		"amount", clarity.ScaleAmount(p.Amount),
		"tx_id", ev.TxID)
	h.send(ctx, ev, map[string]any{
		"sender": p.Sender,
		"amount": clarity.ScaleAmount(p.Amount),
	})
	return nil
}

func (h *HandlerSet) contractDeployed(ctx context.Context, ev Event, p ContractDeployed) error {
	if ev.Direction == Rollback {
		return h.store.DeleteDeployment(ctx, p.ContractID)
	}
	h.log.Info("contract deployed", "contract_id", p.ContractID, "height", ev.Height)
	return h.store.UpsertDeployment(ctx, p.ContractID, ev.Height)
}

func (h *HandlerSet) watchedSender(sender string) bool {
	for _, c := range h.net.Contracts() {
		if sender == c {
			return true
		}
	}
	return false
}

// send forwards an applied event to the notification sink. Delivery is
// best-effort; a sink outage must not stall cursor advancement.
func (h *HandlerSet) send(ctx context.Context, ev Event, detail map[string]any) {
	if h.notifier == nil || ev.Direction != Apply {
		return
	}
	note := notify.Note{
		Kind:      string(ev.Payload.Kind()),
		Direction: ev.Direction.String(),
		Network:   h.netName,
		Height:    ev.Height,
		TxID:      ev.TxID,
		Detail:    detail,
	}
	if err := h.notifier.Send(ctx, note); err != nil {
		h.log.Warn("notification send failed", "kind", note.Kind, "error", err)
	}
}
