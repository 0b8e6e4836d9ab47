// Command ergocore runs the rowing-metrics core: pulse ingestion,
// kinematics, drag calibration, stroke detection, power/energy, the
// session controller, and the BLE/HTTP broadcast surfaces.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ergorower/ergocore/internal/broadcast"
	"github.com/ergorower/ergocore/internal/config"
	"github.com/ergorower/ergocore/internal/core"
	"github.com/ergorower/ergocore/internal/gpio"
	"github.com/ergorower/ergocore/internal/heartrate"
	"github.com/ergorower/ergocore/internal/logging"
	"github.com/ergorower/ergocore/internal/pulse"
	"github.com/ergorower/ergocore/internal/server"
	"github.com/ergorower/ergocore/internal/store"
	"github.com/ergorower/ergocore/internal/telemetry"
	"github.com/ergorower/ergocore/internal/transport/ble"
	"github.com/ergorower/ergocore/web"
)

func main() {
	configPath := flag.String("config", "/etc/ergocore/config.yaml", "Path to config file")
	dataDir := flag.String("data-dir", "/var/lib/ergocore", "Path to the persisted key/value store")
	demo := flag.Bool("demo", false, "Run with a simulated pulse source instead of real GPIO")
	flywheelPin := flag.String("flywheel-pin", "GPIO17", "GPIO pin name for the flywheel sensor")
	seatPin := flag.String("seat-pin", "GPIO27", "GPIO pin name for the seat sensor")
	listenAddr := flag.String("listen", "", "Override the HTTP listen address (e.g. :8080)")
	dev := flag.Bool("dev", false, "Use a human-readable development logger instead of JSON")
	flag.Parse()

	log := logging.New(*dev)
	defer log.Sync()

	log.Info("ergocore starting")

	cfg := config.Load(*configPath, log)
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	st, err := store.NewFileStore(*dataDir)
	if err != nil {
		log.Fatal("failed to open key/value store", zap.Error(err))
	}

	metric := telemetry.NewPrometheusProvider()
	droppedPulses := metric.NewCounter("ergocore_pulses_dropped_total", "total pulse edges dropped by debounce or backpressure")

	var pulses pulse.Source
	if *demo {
		demoSrc := gpio.NewDemoSource(cfg.Physics.MagnetsPerRev, 24)
		demoSrc.SetTelemetry(droppedPulses)
		pulses = demoSrc
	} else {
		src, err := gpio.NewPeriphSource(*flywheelPin, *seatPin)
		if err != nil {
			log.Fatal("failed to initialize GPIO pulse source", zap.Error(err))
		}
		src.SetTelemetry(droppedPulses)
		pulses = src
	}

	hr := heartrate.New()

	// bleSink stays a nil interface (not a typed nil *ble.Peripheral) when
	// BLE is unavailable, since broadcast.Sink's methods would otherwise
	// be called on a nil receiver.
	var bleSink broadcast.Sink
	if cfg.Network.BLEEnabled {
		p, err := ble.NewPeripheral(cfg.Network.DeviceName)
		if err != nil {
			log.Warn("BLE advertising unavailable, continuing without it", zap.Error(err))
		} else {
			bleSink = p
		}
	}

	c := core.New(cfg, log, metric, pulses, hr, st, bleSink, nil)

	httpSrv := server.New(cfg, c, web.FS, log, metric)
	// The HTTP server doubles as the web broadcast sink, so /ws and
	// /events are fed by the same fan-out as BLE, at the web interval
	// rather than the BLE one. Core construction
	// and Server construction are mutually dependent, so the sink is
	// bound after both exist rather than threaded through New.
	c.SetWebSink(httpSrv)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler())
	mux.Handle("/", httpSrv.Handler())

	coreErrCh := make(chan error, 1)
	go func() { coreErrCh <- c.Run(ctx) }()

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		httpServer.Shutdown(shutCtx)
	}()

	log.Info("listening", zap.String("addr", cfg.Server.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server exited", zap.Error(err))
	}

	cancel()
	if err := <-coreErrCh; err != nil {
		log.Error("core exited", zap.Error(err))
	}
}
