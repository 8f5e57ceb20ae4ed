package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/daemon"
	"github.com/lumie-health/ringlink/eventhub"
	"github.com/lumie-health/ringlink/logger"
	"github.com/lumie-health/ringlink/platform"
	"github.com/lumie-health/ringlink/protocol"
	"github.com/lumie-health/ringlink/ring"
	"github.com/lumie-health/ringlink/sim"
)

func main() {
	addr := flag.String("addr", ":8780", "HTTP listen address")
	simulate := flag.Bool("simulate", false, "Use simulated rings instead of the radio")
	logLevel := flag.String("log-level", "", "Log level (trace, debug, info, warn, error); overrides "+logger.EnvLevel)
	prefix := flag.String("prefix", ring.DefaultNamePrefix, "Advertised name prefix")
	flag.Parse()

	level := logger.LevelFromEnv(logger.INFO)
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	}
	logger.SetLevel(level)
	logger.SetTimestamps(true)

	var adapter ble.Adapter
	if *simulate {
		adapter = sim.NewAdapter(sim.WithRings(
			sim.NewRing("JCRing-0001", sim.WithID("sim-0001")),
			sim.NewRing("JCRing-0002", sim.WithID("sim-0002"), sim.WithSilentOpcode(protocol.OpGetBattery)),
		))
	} else {
		adapter = platform.NewAdapter()
	}

	server := daemon.NewServer(adapter, eventhub.NewHub(), ring.WithNamePrefix(*prefix))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, *addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
