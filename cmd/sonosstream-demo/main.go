// Command sonosstream-demo discovers Sonos players on the local network,
// starts the event stream, and serves the management HTTP surface over
// it until interrupted.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/sonosstream/internal/config"
	"github.com/strefethen/sonosstream/internal/devicedesc"
	"github.com/strefethen/sonosstream/internal/model"
	"github.com/strefethen/sonosstream/internal/server"
	"github.com/strefethen/sonosstream/internal/ssdp"
	"github.com/strefethen/sonosstream/internal/statecache"
	"github.com/strefethen/sonosstream/internal/stream"
	"github.com/strefethen/sonosstream/internal/wsbroadcast"
)

const (
	discoverySearchTarget = "urn:schemas-upnp-org:device:ZonePlayer:1"
	discoveryTimeout      = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	cache := statecache.New()
	hub := wsbroadcast.New()
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	active, err := stream.NewBuilder().
		WithStateCache(cache).
		WithServices(cfg.ServiceTypes()...).
		WithTimeouts(cfg.SubscriptionTimeoutSec, cfg.BackoffBaseSec).
		WithMaxAttempts(cfg.MaxAttempts).
		WithCallbackPorts(cfg.CallbackPortLo, cfg.CallbackPortHi).
		WithBufferSize(cfg.BufferSize).
		WithEventHandler(func(change model.StateChange) {
			hub.Publish(change)
		}).
		WithLifecycleHandlers(stream.LifecycleHandlers{
			OnConnected:    func(s model.Speaker) { log.Printf("stream: connected %s (%s)", s.RoomName, s.ID) },
			OnDisconnected: func(id model.SpeakerId) { log.Printf("stream: disconnected %s", id) },
			OnError:        func(err error) { log.Printf("stream: error: %v", err) },
			OnStarted:      func() { log.Printf("stream: started") },
			OnStopped:      func() { log.Printf("stream: stopped") },
		}).
		Start(context.Background())
	if err != nil {
		log.Fatalf("stream start error: %v", err)
	}

	discoverAndSubscribe(active)

	summary := cron.New()
	if _, err := summary.AddFunc("@every 60s", func() { logFleetSummary(active) }); err != nil {
		log.Fatalf("scheduling fleet summary: %v", err)
	}
	summary.Start()

	handler := server.NewHandler(cfg, cache, hub)
	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		close(hubStop)
		summaryCtx := summary.Stop()
		<-summaryCtx.Done()
		active.Shutdown(ctx)

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("sonosstream-demo listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// discoverAndSubscribe runs one SSDP discovery pass, fetches each
// responding device's description, and registers it with the stream.
// Discovery failures are logged, not fatal: a player that never answers
// never joins the fleet, but the demo keeps serving the ones that did.
func discoverAndSubscribe(active *stream.ActiveStream) {
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	responses, err := ssdp.Discover(ctx, discoverySearchTarget, discoveryTimeout)
	if err != nil {
		log.Printf("discovery error: %v", err)
		return
	}

	for _, resp := range responses {
		// ctx has expired by the time Discover returns, so fetching and
		// subscribing use their own client timeouts instead.
		speaker, err := devicedesc.Fetch(context.Background(), resp.Location)
		if err != nil {
			log.Printf("device description fetch failed for %s: %v", resp.Location, err)
			continue
		}
		active.AddSpeaker(context.Background(), speaker, false)
	}
}

func logFleetSummary(active *stream.ActiveStream) {
	stats := active.Stats()
	log.Printf("fleet summary: %d speakers, %d groups, anchor=%v", stats.Speakers, stats.Groups, stats.HasAnchor)
}
