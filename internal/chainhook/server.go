package chainhook

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Server receives push deliveries and funnels them through a single
// worker. The transport may POST concurrently, but ordering guarantees
// depend on at-most-one batch in flight per process, so deliveries are
// serialized through the queue.
type Server struct {
	srv       *http.Server
	router    *Router
	log       *slog.Logger
	authToken string

	queue chan *Payload
	wg    sync.WaitGroup
	once  sync.Once
}

// NewServer builds the callback listener. authToken, when set, must
// match the Authorization header of every delivery.
func NewServer(addr, authToken string, router *Router, log *slog.Logger) *Server {
	s := &Server{
		router:    router,
		log:       log,
		authToken: authToken,
		queue:     make(chan *Payload, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleDelivery)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return s
}

// Start launches the listener and the batch worker.
func (s *Server) Start(ctx context.Context) {
	// every queued batch was already ACKed to the transport, which will
	// not redeliver it; draining must outlive the run context's
	// cancellation. Shutdown bounds the drain instead.
	drainCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for p := range s.queue {
			if err := s.router.Route(drainCtx, p.UUID, p); err != nil {
				s.log.Error("batch handler failed", "uuid", p.UUID, "error", err)
			}
		}
	}()

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("chainhook listener error", "error", err)
		}
	}()
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.authToken != "" && r.Header.Get("Authorization") != "Bearer "+s.authToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	p, err := ParsePayload(r.Body)
	if err != nil {
		s.log.Error("rejecting malformed delivery", "error", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	select {
	case s.queue <- p:
		w.WriteHeader(http.StatusOK)
	default:
		// shed load rather than block the transport; it redelivers
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}
}

// Shutdown stops accepting deliveries, then lets in-flight batches
// finish. Handlers are never interrupted mid-invocation.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.once.Do(func() { close(s.queue) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
