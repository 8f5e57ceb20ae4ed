package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/logger"
	"github.com/lumie-health/ringlink/platform"
	"github.com/lumie-health/ringlink/protocol"
	"github.com/lumie-health/ringlink/ring"
	"github.com/lumie-health/ringlink/sim"
)

func usage() {
	fmt.Println("Usage: ringctl [flags] <command> [command flags]")
	fmt.Println("\nCommands:")
	fmt.Println("  scan                      list nearby rings")
	fmt.Println("  pair -device <id|name>    pair and print device info")
	fmt.Println("\nExample:")
	fmt.Println("  ringctl -simulate pair -device JCRing-0001 -sex female -age 30 -height 165 -weight 60")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
}

func main() {
	simulate := flag.Bool("simulate", false, "Use simulated rings instead of the radio")
	jsonOut := flag.Bool("json", false, "Print results as JSON")
	logLevel := flag.String("log-level", "", "Log level (trace, debug, info, warn, error); overrides "+logger.EnvLevel)
	window := flag.Duration("window", ring.DefaultScanWindow, "Scan window")
	prefix := flag.String("prefix", ring.DefaultNamePrefix, "Advertised name prefix")
	flag.Usage = usage
	flag.Parse()

	level := logger.LevelFromEnv(logger.WARN)
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	}
	logger.SetLevel(level)

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	var adapter ble.Adapter
	if *simulate {
		adapter = simulatedRadio()
	} else {
		adapter = platform.NewAdapter()
	}
	opts := []ring.Option{ring.WithScanWindow(*window), ring.WithNamePrefix(*prefix)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "scan":
		err = runScan(ctx, adapter, opts, *jsonOut)
	case "pair":
		err = runPair(ctx, adapter, opts, args, *jsonOut)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%v (%s)", err, ring.FailureReason(err))
	}
}

func simulatedRadio() *sim.Adapter {
	return sim.NewAdapter(sim.WithRings(
		sim.NewRing("JCRing-0001", sim.WithID("sim-0001"), sim.WithRSSI(-48)),
		sim.NewRing("JCRing-0002", sim.WithID("sim-0002"), sim.WithRSSI(-71), sim.WithBattery(12), sim.WithResponseDelay(40*time.Millisecond)),
		sim.NewRing("Heart Monitor", sim.WithID("sim-hrm")),
	))
}

func runScan(ctx context.Context, adapter ble.Adapter, opts []ring.Option, jsonOut bool) error {
	scanner := ring.NewScanner(adapter, opts...)
	events, err := scanner.Scan(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for ev := range events {
		switch ev.Kind {
		case ring.ScanFound:
			if jsonOut {
				enc.Encode(ev.Peripheral)
				continue
			}
			fmt.Printf("%-20s %-40s %4d dBm\n", ev.Peripheral.Name, ev.Peripheral.ID, ev.Peripheral.RSSI)
		case ring.ScanTimeout:
			if !jsonOut {
				fmt.Println("scan window elapsed")
			}
		case ring.ScanFailed:
			return ev.Err
		}
	}
	return nil
}

func runPair(ctx context.Context, adapter ble.Adapter, opts []ring.Option, args []string, jsonOut bool) error {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	device := fs.String("device", "", "Device id or advertised name (first ring found when empty)")
	sexFlag := fs.String("sex", "female", "female or male")
	age := fs.Int("age", 30, "Age in years")
	height := fs.Int("height", 165, "Height in cm")
	weight := fs.Int("weight", 60, "Weight in kg")
	fs.Parse(args)

	sex, ok := protocol.ParseSex(*sexFlag)
	if !ok {
		return fmt.Errorf("invalid -sex %q: want female or male", *sexFlag)
	}
	profile := protocol.UserProfile{Sex: sex, Age: *age, HeightCm: *height, WeightKg: *weight}
	if err := profile.Validate(); err != nil {
		return err
	}

	p, err := findRing(ctx, ring.NewScanner(adapter, opts...), *device)
	if err != nil {
		return err
	}

	client := ring.NewClient(adapter, opts...)
	defer client.Disconnect()

	info, err := client.ConnectAndPair(ctx, p, profile)
	if err != nil {
		return err
	}

	if jsonOut {
		fmt.Println(logger.ToJSON(info.Proto()))
		return nil
	}
	fmt.Printf("Paired with %s (%s)\n", info.DisplayName, info.DeviceID)
	fmt.Printf("  Identifier: %s\n", orUnknown(info.Identifier))
	fmt.Printf("  Firmware:   %s\n", orUnknown(info.FirmwareVersion))
	if info.BatteryPercent != nil {
		fmt.Printf("  Battery:    %d%%\n", *info.BatteryPercent)
	} else {
		fmt.Printf("  Battery:    unknown\n")
	}
	return nil
}

// findRing scans until a ring matching want by id or name shows up.
func findRing(ctx context.Context, scanner *ring.Scanner, want string) (ble.Peripheral, error) {
	events, err := scanner.Scan(ctx)
	if err != nil {
		return ble.Peripheral{}, err
	}
	defer scanner.Stop()

	for ev := range events {
		switch ev.Kind {
		case ring.ScanFound:
			p := ev.Peripheral
			if want == "" || p.ID == want || strings.EqualFold(p.Name, want) {
				return p, nil
			}
		case ring.ScanFailed:
			return ble.Peripheral{}, ev.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return ble.Peripheral{}, err
	}
	return ble.Peripheral{}, fmt.Errorf("ring %q not found", want)
}

func orUnknown(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
