// FleetDeck Agent - reports presence and telemetry over WebSocket.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/agent"
	"github.com/fleetdeck/fleetdeck/internal/config"
)

func main() {
	// CLI flags
	showVersion := flag.Bool("version", false, "print version and exit")
	showHelp := flag.Bool("help", false, "show usage")
	runCheck := flag.Bool("check", false, "validate config and test connectivity")

	// Short flags
	flag.BoolVar(showVersion, "v", false, "print version and exit")
	flag.BoolVar(showHelp, "h", false, "show usage")

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetdeck-agent %s\n", agent.Version)
		os.Exit(0)
	}

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *runCheck {
		os.Exit(runConfigCheck())
	}

	// Set up logging
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Logger()

	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Set log level
	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", agent.Version).
		Str("hostname", cfg.Hostname).
		Str("url", cfg.ServerURL).
		Msg("FleetDeck Agent starting")

	// Create agent
	a := agent.New(cfg, log)

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal")
		a.Shutdown()
	}()

	// Run agent
	if err := a.Run(); err != nil {
		log.Fatal().Err(err).Msg("agent failed")
	}
}

func printUsage() {
	fmt.Printf(`Usage: fleetdeck-agent [options]

FleetDeck Agent %s - connects to the FleetDeck server for fleet tracking.

Options:
  -v, --version   Print version and exit
  -h, --help      Print this help and exit
  --check         Validate config and test connectivity

Environment variables:
  FLEETDECK_URL           Server WebSocket URL (required)
  FLEETDECK_TOKEN         Authentication token (required)
  FLEETDECK_FLEET_SECRET  Shared envelope secret (optional)
  FLEETDECK_REMOTE_ID     Remote-access ID shown on the dashboard (optional)
  FLEETDECK_HOSTNAME      Override hostname detection
  FLEETDECK_INTERVAL      Telemetry interval in seconds (default: 60)
  FLEETDECK_LOG_LEVEL     Log level: debug, info, warn, error
`, agent.Version)
}

func runConfigCheck() int {
	fmt.Println("Checking configuration...")
	fmt.Println()

	// Load config
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Config error: %v\n", err)
		return 1
	}

	fmt.Println("Config OK")
	fmt.Printf("  Hostname:  %s\n", cfg.Hostname)
	fmt.Printf("  Server:    %s\n", cfg.ServerURL)
	fmt.Printf("  Interval:  %s\n", cfg.ReportInterval)
	fmt.Printf("  Sealed:    %v\n", cfg.FleetSecret != "")
	fmt.Println()

	// Test connectivity
	fmt.Print("Testing server connectivity... ")

	// Convert WebSocket URL to HTTP for the health check
	httpURL := cfg.ServerURL
	httpURL = strings.Replace(httpURL, "wss://", "https://", 1)
	httpURL = strings.Replace(httpURL, "ws://", "http://", 1)
	httpURL = strings.TrimSuffix(httpURL, "/ws") + "/health"

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()
	resp, err := client.Get(httpURL)
	latency := time.Since(start)

	if err != nil {
		fmt.Printf("failed\n")
		fmt.Printf("  Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		fmt.Printf("failed (HTTP %d)\n", resp.StatusCode)
		return 1
	}

	fmt.Printf("OK (latency: %dms)\n", latency.Milliseconds())
	return 0
}
