package chainhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devblac/stackfeed/internal/config"
)

// Registrar manages predicate registration with the node-side matching
// service. Subscription state lives on the remote side, keyed by the
// immutable UUIDs from the static table.
type Registrar struct {
	cfg    config.ChainhookConfig
	client *http.Client
	log    *slog.Logger
}

func NewRegistrar(cfg config.ChainhookConfig, log *slog.Logger) *Registrar {
	return &Registrar{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// RegisterAll sends the full predicate table once at startup. Any
// failure is fatal to the caller: running with a partial table would
// silently drop event categories.
func (r *Registrar) RegisterAll(ctx context.Context, subs []Subscription, networkName string, net config.Network) error {
	for _, sub := range subs {
		body, err := json.Marshal(sub.Definition(networkName, net, r.cfg))
		if err != nil {
			return fmt.Errorf("marshal predicate %s: %w", sub.Name, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.NodeURL+"/v1/chainhooks", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("register %s: %w", sub.Name, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("register %s: %w", sub.Name, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("register %s: http status %d", sub.Name, resp.StatusCode)
		}
		r.log.Info("registered subscription", "name", sub.Name, "uuid", sub.UUID)
	}
	return nil
}

// DeregisterAll removes the predicates at shutdown. Failures are
// logged and skipped; the next startup re-registers under the same
// UUIDs anyway.
func (r *Registrar) DeregisterAll(ctx context.Context, subs []Subscription) {
	for _, sub := range subs {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.cfg.NodeURL+"/v1/chainhooks/"+sub.UUID, nil)
		if err != nil {
			r.log.Warn("deregister request failed", "name", sub.Name, "error", err)
			continue
		}
		resp, err := r.client.Do(req)
		if err != nil {
			r.log.Warn("deregister failed", "name", sub.Name, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			r.log.Warn("deregister rejected", "name", sub.Name, "status", resp.StatusCode)
		}
	}
}
