// Package callback runs the inbound HTTP server that receives UPnP GENA
// NOTIFY requests and forwards their bodies onto an event channel.
package callback

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strefethen/sonosstream/internal/model"
)

// Server binds the first free port in a configured range and accepts
// NOTIFY requests. It owns no state besides the subscription-path lookup
// table, the event channel, and a counter of dropped events.
type Server struct {
	events chan model.RawEvent

	mu     sync.RWMutex
	routes map[string]model.SubscriptionId

	listener net.Listener
	httpSrv  *http.Server
	port     int

	droppedEvents uint64
}

// New returns a Server that will push decoded NOTIFY bodies onto events.
// events is never closed by the Server; the caller owns its lifetime. The
// Server also needs to receive from events (to drop the oldest entry on
// overflow), so it takes the bidirectional channel rather than a
// send-only view of it.
func New(events chan model.RawEvent) *Server {
	return &Server{
		events: events,
		routes: make(map[string]model.SubscriptionId),
	}
}

// Start binds the first free TCP port in [minPort, maxPort] and begins
// accepting connections in the background. It returns an error if the
// entire range is exhausted.
func (s *Server) Start(minPort, maxPort int) error {
	var lastErr error
	for port := minPort; port <= maxPort; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		s.listener = ln
		s.port = port

		mux := http.NewServeMux()
		mux.HandleFunc("/callback/", s.handleNotify)
		s.httpSrv = &http.Server{Handler: mux}

		go s.httpSrv.Serve(ln)
		return nil
	}
	return fmt.Errorf("callback: no free port in range %d-%d: %w", minPort, maxPort, lastErr)
}

// BaseURL returns the URL to advertise in a SUBSCRIBE CALLBACK header.
// advertiseHost is the local IP a player on the LAN can route back to.
func (s *Server) BaseURL(advertiseHost string) string {
	return fmt.Sprintf("http://%s:%d", advertiseHost, s.port)
}

// Register associates a callback path with a subscription id so a later
// NOTIFY to that path can be attributed. path must match what Subscribe
// was told to advertise in the CALLBACK header.
func (s *Server) Register(id model.SubscriptionId, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = id
}

// Unregister removes a previously registered path; a subsequent NOTIFY to
// it is treated as stray.
func (s *Server) Unregister(id model.SubscriptionId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, sid := range s.routes {
		if sid == id {
			delete(s.routes, path)
		}
	}
}

// Shutdown stops accepting new connections and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	subID, ok := s.routes[r.URL.Path]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown subscription", http.StatusPreconditionFailed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	event := model.RawEvent{SubscriptionID: subID, BodyXML: body, ReceivedAt: time.Now()}

	select {
	case s.events <- event:
	default:
		// channel full: drop the oldest queued event rather than this
		// one, so a burst never starves the processor of the NOTIFY
		// that just arrived, and retry once. A concurrent receive by
		// the processor can still beat us to it, in which case the
		// retry send just succeeds normally.
		select {
		case <-s.events:
			atomic.AddUint64(&s.droppedEvents, 1)
		default:
		}
		select {
		case s.events <- event:
		default:
			atomic.AddUint64(&s.droppedEvents, 1)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// DroppedEvents returns the number of NOTIFY bodies discarded so far
// because the event channel was full.
func (s *Server) DroppedEvents() uint64 {
	return atomic.LoadUint64(&s.droppedEvents)
}
