// Package daemon exposes scanning and pairing to the UI layer over HTTP,
// with progress pushed through the websocket event hub.
package daemon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/eventhub"
	"github.com/lumie-health/ringlink/logger"
	"github.com/lumie-health/ringlink/ring"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	scanner *ring.Scanner
	client  *ring.Client
	hub     *eventhub.Hub
	router  *http.ServeMux

	mu         sync.Mutex
	discovered map[string]ble.Peripheral
}

// NewServer wires a scanner and a client over adapter. Client state
// changes are pushed to hub.
func NewServer(adapter ble.Adapter, hub *eventhub.Hub, opts ...ring.Option) *Server {
	clientOpts := append([]ring.Option{ring.WithStateObserver(hub.State)}, opts...)
	s := &Server{
		scanner:    ring.NewScanner(adapter, opts...),
		client:     ring.NewClient(adapter, clientOpts...),
		hub:        hub,
		router:     http.NewServeMux(),
		discovered: make(map[string]ble.Peripheral),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("POST /scan/start", corsMiddleware(s.handleScanStart))
	s.router.HandleFunc("POST /scan/stop", corsMiddleware(s.handleScanStop))
	s.router.HandleFunc("POST /pair", corsMiddleware(s.handlePair))
	s.router.HandleFunc("POST /disconnect", corsMiddleware(s.handleDisconnect))
	s.router.HandleFunc("GET /state", corsMiddleware(s.handleState))
	s.router.HandleFunc("GET /ws", s.hub.ServeWS)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errC := make(chan error, 1)
	go func() {
		logger.Info("daemon", "listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
		}
		close(errC)
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	logger.Info("daemon", "shutting down")
	s.scanner.Stop()
	s.client.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// forward relays one scan session to websocket clients.
func (s *Server) forward(events <-chan ring.ScanEvent) {
	for ev := range events {
		switch ev.Kind {
		case ring.ScanFound:
			s.mu.Lock()
			s.discovered[ev.Peripheral.ID] = ev.Peripheral
			s.mu.Unlock()
			s.hub.ScanFound(ev.Peripheral)
		case ring.ScanTimeout:
			s.hub.ScanTimeout()
		case ring.ScanFailed:
			s.hub.Broadcast(eventhub.Event{Type: eventhub.TypeScanTimeout, Payload: map[string]interface{}{
				"reason": ring.FailureReason(ev.Err),
			}})
		}
	}
}

func (s *Server) lookup(id string) (ble.Peripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.discovered[id]
	return p, ok
}
