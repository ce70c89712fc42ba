package chainhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/stackfeed/internal/clarity"
	"github.com/devblac/stackfeed/internal/events"
	"github.com/devblac/stackfeed/internal/metrics"
)

// Adapter turns raw push deliveries into the canonical domain events
// both transports share, then feeds the handler set. One adapter
// method per subscription family; each iterates apply then rollback in
// delivery order, which is authoritative chain order.
type Adapter struct {
	handlers *events.HandlerSet
	log      *slog.Logger
	mtr      *metrics.Metrics
}

func NewAdapter(handlers *events.HandlerSet, log *slog.Logger, mtr *metrics.Metrics) *Adapter {
	return &Adapter{handlers: handlers, log: log, mtr: mtr}
}

// walk visits every transaction of both phases in delivery order.
func (a *Adapter) walk(ctx context.Context, p *Payload, visit func(ctx context.Context, dir events.Direction, block BlockRecord, tx TransactionRecord) error) error {
	for _, block := range p.Apply {
		for _, tx := range block.Transactions {
			if err := visit(ctx, events.Apply, block, tx); err != nil {
				return err
			}
		}
	}
	for _, block := range p.Rollback {
		if a.mtr != nil {
			a.mtr.BlocksRolledBack()
		}
		a.log.Info("rolling back block", "height", block.BlockIdentifier.Index, "hash", block.BlockIdentifier.Hash)
		for _, tx := range block.Transactions {
			if err := visit(ctx, events.Rollback, block, tx); err != nil {
				return err
			}
		}
	}
	if a.mtr != nil {
		a.mtr.BatchesApplied()
	}
	return nil
}

// PrintEvents handles structured-log deliveries: market lifecycle,
// wagers, claims, and the admin events. scope overrides the decoded
// ConfigChanged scope with the subscription's declared condition label.
func (a *Adapter) PrintEvents(scope string) BatchHandler {
	return func(ctx context.Context, sub Subscription, p *Payload) error {
		return a.walk(ctx, p, func(ctx context.Context, dir events.Direction, block BlockRecord, tx TransactionRecord) error {
			for i, raw := range tx.Metadata.Receipt.Events {
				if raw.Type != EventSmartContractLog {
					continue
				}
				var data SmartContractEventData
				if err := raw.DecodeEventData(&data); err != nil {
					a.log.Error("malformed contract log", "tx_id", tx.TransactionIdentifier.Hash, "error", err)
					continue
				}
				tuple := clarity.FromJSON(data.Value)
				payload, err := events.FromTuple(tuple)
				if err != nil {
					if errors.Is(err, events.ErrUnknownEvent) {
						a.log.Debug("skipping unknown event", "tx_id", tx.TransactionIdentifier.Hash, "error", err)
						continue
					}
					return err
				}
				if cc, ok := payload.(events.ConfigChanged); ok && scope != "" {
					cc.Scope = scope
					payload = cc
				}
				ev := events.Event{
					Direction: dir,
					Height:    block.BlockIdentifier.Index,
					TxID:      tx.TransactionIdentifier.Hash,
					Index:     raw.IndexOr(i),
					Payload:   payload,
				}
				if err := a.handlers.Handle(ctx, ev); err != nil {
					return fmt.Errorf("handle %s: %w", payload.Kind(), err)
				}
			}
			return nil
		})
	}
}

// TokenEvents handles the fungible-token mint/transfer/burn categories.
func (a *Adapter) TokenEvents() BatchHandler {
	return func(ctx context.Context, sub Subscription, p *Payload) error {
		return a.walk(ctx, p, func(ctx context.Context, dir events.Direction, block BlockRecord, tx TransactionRecord) error {
			for i, raw := range tx.Metadata.Receipt.Events {
				var op string
				switch raw.Type {
				case EventFTMint:
					op = events.TokenMint
				case EventFTTransfer:
					op = events.TokenTransfer
				case EventFTBurn:
					op = events.TokenBurn
				default:
					continue
				}
				var data AssetEventData
				if err := raw.DecodeEventData(&data); err != nil {
					a.log.Error("malformed token event", "tx_id", tx.TransactionIdentifier.Hash, "error", err)
					continue
				}
				amount, err := ParseAmount(data.Amount)
				if err != nil {
					a.log.Error("malformed token amount", "tx_id", tx.TransactionIdentifier.Hash, "error", err)
					continue
				}
				ev := events.Event{
					Direction: dir,
					Height:    block.BlockIdentifier.Index,
					TxID:      tx.TransactionIdentifier.Hash,
					Index:     raw.IndexOr(i),
					Payload: events.TokenMovement{
						Op:        op,
						Sender:    data.Sender,
						Recipient: data.Recipient,
						Amount:    amount,
					},
				}
				if err := a.handlers.Handle(ctx, ev); err != nil {
					return fmt.Errorf("handle token movement: %w", err)
				}
			}
			return nil
		})
	}
}

// NativeTransfers handles the native-asset category. The condition has
// no sender filter, so most deliveries are background noise; the
// handler set decides whether the sender is one of ours.
func (a *Adapter) NativeTransfers() BatchHandler {
	return func(ctx context.Context, sub Subscription, p *Payload) error {
		return a.walk(ctx, p, func(ctx context.Context, dir events.Direction, block BlockRecord, tx TransactionRecord) error {
			for i, raw := range tx.Metadata.Receipt.Events {
				if raw.Type != EventSTXTransfer {
					continue
				}
				var data AssetEventData
				if err := raw.DecodeEventData(&data); err != nil {
					a.log.Error("malformed native transfer", "tx_id", tx.TransactionIdentifier.Hash, "error", err)
					continue
				}
				amount, err := ParseAmount(data.Amount)
				if err != nil {
					a.log.Error("malformed transfer amount", "tx_id", tx.TransactionIdentifier.Hash, "error", err)
					continue
				}
				ev := events.Event{
					Direction: dir,
					Height:    block.BlockIdentifier.Index,
					TxID:      tx.TransactionIdentifier.Hash,
					Index:     raw.IndexOr(i),
					Payload: events.NativeTransfer{
						Sender:    data.Sender,
						Recipient: data.Recipient,
						Amount:    amount,
					},
				}
				if err := a.handlers.Handle(ctx, ev); err != nil {
					return fmt.Errorf("handle native transfer: %w", err)
				}
			}
			return nil
		})
	}
}

// Deployments detects contract deployments from transaction metadata.
func (a *Adapter) Deployments() BatchHandler {
	return func(ctx context.Context, sub Subscription, p *Payload) error {
		return a.walk(ctx, p, func(ctx context.Context, dir events.Direction, block BlockRecord, tx TransactionRecord) error {
			if tx.Metadata.Kind.Type != "ContractDeployment" {
				return nil
			}
			contractID, _ := tx.Metadata.Kind.Data["contract_identifier"].(string)
			if contractID == "" {
				a.log.Warn("deployment without contract identifier", "tx_id", tx.TransactionIdentifier.Hash)
				return nil
			}
			ev := events.Event{
				Direction: dir,
				Height:    block.BlockIdentifier.Index,
				TxID:      tx.TransactionIdentifier.Hash,
				Index:     0,
				Payload:   events.ContractDeployed{ContractID: contractID},
			}
			if err := a.handlers.Handle(ctx, ev); err != nil {
				return fmt.Errorf("handle deployment: %w", err)
			}
			return nil
		})
	}
}

// WireRouter registers the full subscription table against a router.
func (a *Adapter) WireRouter(r *Router, subs []Subscription) {
	for _, sub := range subs {
		switch sub.UUID {
		case SubMarketActivity:
			r.Register(sub, a.PrintEvents(""))
		case SubFeesUpdated, SubOracleUpdated, SubPauseToggled:
			// distinct subscriptions, one shared handler implementation
			r.Register(sub, a.PrintEvents(sub.Scope))
		case SubTokenEvents:
			r.Register(sub, a.TokenEvents())
		case SubNativeTransfers:
			r.Register(sub, a.NativeTransfers())
		case SubDeployments:
			r.Register(sub, a.Deployments())
		}
	}
}
