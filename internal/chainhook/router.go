package chainhook

import (
	"context"
	"fmt"
	"log/slog"
)

// BatchHandler processes one full delivery for a subscription. The
// handler owns iteration of the apply and rollback sequences; the
// router never pre-filters by event category, because a subscription
// may bundle related categories under one handler.
type BatchHandler func(ctx context.Context, sub Subscription, p *Payload) error

type registration struct {
	sub Subscription
	fn  BatchHandler
}

// Router dispatches deliveries to handlers keyed solely by the
// subscription identifier, never by payload shape.
type Router struct {
	log      *slog.Logger
	handlers map[string]registration
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{
		log:      log,
		handlers: map[string]registration{},
	}
}

// Register binds a subscription to its handler.
func (r *Router) Register(sub Subscription, fn BatchHandler) {
	r.handlers[sub.UUID] = registration{sub: sub, fn: fn}
}

// Route invokes exactly one handler for the batch. An unknown
// identifier is not fatal: new subscriptions may be added on the
// remote side out of step with code deploys, so it logs a warning and
// returns nil. Handler failures are contained here and must not block
// later batches; redelivery, if any, is the transport's concern.
func (r *Router) Route(ctx context.Context, uuid string, p *Payload) (err error) {
	reg, ok := r.handlers[uuid]
	if !ok {
		r.log.Warn("no handler registered for subscription", "uuid", uuid)
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic for subscription %s: %v", uuid, rec)
		}
	}()

	if err := reg.fn(ctx, reg.sub, p); err != nil {
		return fmt.Errorf("subscription %s (%s): %w", uuid, reg.sub.Name, err)
	}
	return nil
}
