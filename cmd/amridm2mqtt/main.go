package main

import (
	"net/http"
	"os"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"

	"github.com/DMartelly/amridm2mqtt/internal/config"
	"github.com/DMartelly/amridm2mqtt/internal/liveness"
	"github.com/DMartelly/amridm2mqtt/internal/mqtt"
	"github.com/DMartelly/amridm2mqtt/internal/shutdown"
	"github.com/DMartelly/amridm2mqtt/internal/supervisor"
)

// startupFailureDelay keeps a crash-looping service from hammering the
// supervisor (systemd, k8s) with instant respawns.
const startupFailureDelay = 5 * time.Second

var buildtime string

func main() {
	// Initialize zap logging
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func(logger *zap.SugaredLogger) {
		err := logger.Sync()
		if err != nil {
			panic(err)
		}
	}(log)

	zap.S().Infof("This is amridm2mqtt build date: %s", buildtime)

	cfg, err := config.Load()
	if err != nil {
		zap.S().Fatalf("Failed to load configuration: %s", err)
	}
	zap.S().Infof("Watching %d meters: %v", len(cfg.Watched), cfg.Watched.IDs())

	zap.S().Debug("Setting up metrics")
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(":2112", nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()

	zap.S().Debugf("Setting up healthcheck")
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	mqttClient, err := mqtt.New(cfg)
	if err != nil {
		zap.S().Errorf("Failed to connect to MQTT broker %s: %s", cfg.BrokerURL(), err)
		fatalExit()
	}

	pinger := liveness.NewPinger(cfg.LivenessURL)
	sup := supervisor.New(cfg, mqttClient, pinger)

	gs := shutdown.NewHandler(func() error {
		sup.Teardown()
		mqttClient.Disconnect()
		return nil
	})

	if err := sup.Run(gs); err != nil {
		zap.S().Errorf("Fatal error during startup: %s", err)
		sup.Teardown()
		fatalExit()
	}

	// Run only returns once a shutdown is in progress; the handler owns the
	// teardown and the exit code from here.
	gs.Wait()
}

func fatalExit() {
	_ = zap.S().Sync()
	time.Sleep(startupFailureDelay)
	os.Exit(1)
}
