package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "0.2.0"

func printVersion() {
	fmt.Printf("knobd v%s\n", version)
	fmt.Println("Quadrature rotary encoder daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  knobd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that reads quadrature rotary encoders (Linux evdev or sysfs")
	fmt.Println("  GPIO), debounces the raw signals into discrete step events, tracks")
	fmt.Println("  per-encoder positions, and publishes both over a state WebSocket.")
	fmt.Println("  Decoded steps can be forwarded to a downstream WebSocket sink. A")
	fmt.Println("  Unix socket accepts injected events, so the daemon is fully usable")
	fmt.Println("  without hardware.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default \"/tmp/knobd.sock\")\n")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        HTTP/WebSocket listener port, 0 disables (default %d)\n", defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -update-hz int")
	fmt.Printf("        Daemon loop frequency in Hz (default %d)\n", defaultUpdateHz)
	fmt.Println()
	fmt.Println("  -sink-enabled")
	fmt.Println("        Forward decoded steps to the sink websocket")
	fmt.Println()
	fmt.Println("  -sink-ws-url string")
	fmt.Println("        Downstream sink websocket URL (e.g. \"ws://127.0.0.1:1234\")")
	fmt.Println()
	fmt.Println("  -check-config")
	fmt.Println("        Validate the effective config and exit")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run with a config file")
	fmt.Println("  knobd -config /etc/knobd/config.yaml")
	fmt.Println()
	fmt.Println("  # Hardware-free run: IPC and state websocket only")
	fmt.Println("  knobd")
	fmt.Println()
	fmt.Println("  # Validate a config file without starting")
	fmt.Println("  knobd -config /etc/knobd/config.yaml -check-config")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - evdev inputs need read access to /dev/input (run as root or add user to 'input' group)")
	fmt.Println("  - gpio inputs use the sysfs interface and are Linux-only")
	fmt.Println("  - config file changes to logging.level apply live; other changes need a restart")
	fmt.Println()
}

func main() {
	// Check for version/help flags early, before flag parsing can complain.
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	// Parse command-line flags
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		ipcSocket   = flag.String("ipc-socket", "/tmp/knobd.sock", "Unix domain socket path for IPC")
		httpPort    = flag.Int("http-port", defaultHTTPPort, "HTTP/WebSocket listener port (0 disables)")
		updateHz    = flag.Int("update-hz", defaultUpdateHz, "Daemon loop frequency in Hz")
		sinkEnabled = flag.Bool("sink-enabled", false, "Forward decoded steps to the sink websocket")
		sinkWsURL   = flag.String("sink-ws-url", "", "Downstream sink websocket URL")
		checkConfig = flag.Bool("check-config", false, "Validate the effective config and exit")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	// Custom usage function
	flag.Usage = printUsage
	flag.Parse()

	// Handle help and version flags
	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Flags override the config file only when explicitly set on the command
	// line, so file values survive under default flag values.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			overrides.LogLevel = logLevelStr
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "http-port":
			overrides.HTTPPort = httpPort
		case "update-hz":
			overrides.UpdateHz = updateHz
		case "sink-enabled":
			overrides.SinkEnabled = sinkEnabled
		case "sink-ws-url":
			overrides.SinkWsURL = sinkWsURL
		}
	})

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if *checkConfig {
		fmt.Println("config ok")
		return
	}

	// Setup logger. Validate already accepted the level string.
	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger, levelVar := setupLogger(logLevel)

	// Handle shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Central event channel: input readers, IPC, and the HTTP handlers all
	// feed the daemon loop through it.
	events := make(chan Event, 256)
	broadcasts := make(chan Broadcast, 256)

	state := &DaemonState{}
	state.Sink.Enabled = cfg.Sink.Enabled

	// Initialize the sink client. An enabled but unreachable sink is fatal at
	// startup; once running, the client reconnects on demand.
	var sink *SinkClient
	if cfg.Sink.Enabled {
		sink, err = NewSinkClient(cfg.Sink.WsURL, logger, cfg.Sink.TimeoutMS)
		if err != nil {
			logger.Error("failed to connect to sink", "url", cfg.Sink.WsURL, "error", err)
			os.Exit(1)
		}
		defer sink.Close()
	}

	ws := NewServer(logger, events, ServerConfig{})
	hub := ws.Hub()

	g, ctx := errgroup.WithContext(ctx)

	// The hub and broadcaster always run: broadcasts flow regardless of
	// whether the HTTP listener is enabled, and an unserved hub is cheap.
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(ctx, hub, broadcasts, logger)
		return nil
	})

	// Start daemon brain
	g.Go(func() error {
		runDaemon(ctx, events, sink, cfg.ToReducerConfig(), state, cfg.Daemon.UpdateHz, broadcasts, logger)
		return nil
	})

	// Start IPC server
	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, events, logger)
	})

	// Start input readers. A reader error cancels the group: a daemon with a
	// dead knob should exit and let the supervisor restart it.
	g.Go(func() error {
		return runEvdevInput(ctx, cfg.Encoders, events, logger)
	})
	for i := range cfg.Encoders {
		enc := cfg.Encoders[i]
		if enc.Input != inputGPIO {
			continue
		}
		g.Go(func() error {
			return runGPIOInput(ctx, enc, events, logger)
		})
	}

	// Start HTTP server (health, state snapshot, state websocket)
	if cfg.HTTP.Port > 0 {
		mux := newHTTPMux(ws, events, logger)
		g.Go(func() error {
			return runHTTPServer(ctx, cfg.HTTP.Port, mux, logger)
		})
	}

	// Watch the config file when one is in use
	if *configPath != "" {
		g.Go(func() error {
			return runConfigWatcher(ctx, *configPath, cfg, levelVar, logger)
		})
	}

	logger.Debug("configuration",
		"config", *configPath,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"update_hz", cfg.Daemon.UpdateHz,
		"sink_enabled", cfg.Sink.Enabled,
		"sink_ws_url", cfg.Sink.WsURL,
		"encoders", len(cfg.Encoders))
	logger.Info("knobd running",
		"version", version,
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"encoders", len(cfg.Encoders),
		"sink_enabled", cfg.Sink.Enabled)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
