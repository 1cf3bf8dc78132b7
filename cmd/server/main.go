package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kropbot/kropbot/internal/auth"
	"github.com/kropbot/kropbot/internal/config"
	"github.com/kropbot/kropbot/internal/consensus"
	"github.com/kropbot/kropbot/internal/frontend"
	"github.com/kropbot/kropbot/internal/logging"
	"github.com/kropbot/kropbot/internal/mock"
	"github.com/kropbot/kropbot/internal/monitor"
	"github.com/kropbot/kropbot/internal/session"
	"github.com/kropbot/kropbot/internal/telemetry"
	"github.com/kropbot/kropbot/internal/ws"
)

const feedCheckInterval = time.Second

func main() {
	mockMode := flag.Bool("mock", false, "Simulate a robot and controllers instead of accepting /robot")
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	host := flag.String("host", "", "Override listen host")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *mockMode {
		cfg.Robot.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.ProviderConfig{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Interval:     cfg.Telemetry.Interval,
	})
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()
	metrics, err := telemetry.New()
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	broadcaster := ws.NewBroadcaster(ws.BroadcastOptions{
		SendBuffer:     cfg.Broadcast.SendBuffer,
		WriteTimeout:   cfg.Broadcast.WriteTimeout,
		ResendInterval: cfg.Broadcast.ResendInterval,
		MaxConnections: cfg.Server.MaxConnections,
	})
	broadcaster.SetMetrics(metrics)
	defer broadcaster.Stop()

	registry := session.NewRegistry(cfg.Control.SessionTimeout)
	engine := consensus.NewEngine(registry, broadcaster)
	engine.SetMetrics(metrics)

	if err := metrics.ObserveGauges(registry.Len, broadcaster.ClientCount); err != nil {
		log.Printf("telemetry: gauges unavailable: %v", err)
	}

	var verifier *auth.Verifier
	if cfg.Robot.Enabled {
		verifier, err = auth.NewVerifier(cfg.Robot.Secret)
		if err != nil {
			log.Fatalf("Failed to create robot verifier: %v", err)
		}
	}

	server := ws.NewServer(cfg, engine, broadcaster, verifier, frontendHandler(*devMode))
	server.SetMetrics(metrics)
	server.SetHostSampler(monitor.NewHostSampler(5 * time.Second))

	feed := monitor.NewFeedHealth(cfg.Robot.StaleAfter)
	server.SetFeedHealth(feed)
	go feed.Run(ctx, feedCheckInterval, func(snap monitor.FeedSnapshot) {
		log.Printf("robot feed %s (robots=%d frames=%d)", snap.Status, snap.Robots, snap.FramesReceived)
		broadcaster.Notify(ws.MsgSourceHealth, snap)
	})

	go consensus.NewSweeper(engine, cfg.Control.SweepInterval).Run(ctx)

	if *mockMode {
		log.Println("Starting in mock mode")
		mock.NewGenerator(engine, broadcaster, feed).Start(ctx)
	} else {
		log.Printf("Starting (session timeout %s, identity %s)", cfg.Control.SessionTimeout, cfg.Control.IdentityMode)
	}

	if err := ws.ListenAndServe(ctx, cfg.Addr(), server.Handler()); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Shut down")
}

// frontendHandler serves the browser client: from the binary when built
// with -tags embed, otherwise from the source tree.
func frontendHandler(devMode bool) http.Handler {
	if !devMode {
		if h := frontend.Handler(); h != nil {
			return h
		}
	}
	cwd, _ := os.Getwd()
	for _, dir := range []string{
		filepath.Join(cwd, "internal", "frontend", "static"),
		filepath.Join(cwd, "..", "..", "internal", "frontend", "static"),
	} {
		if _, err := os.Stat(dir); err == nil {
			log.Printf("Serving frontend from %s", dir)
			return http.FileServer(http.Dir(dir))
		}
	}
	log.Println("No frontend found, serving API only")
	return nil
}
