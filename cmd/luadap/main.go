// Package main is the entry point for the Lua debug adapter.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/luadap/internal/config"
	"github.com/dshills/luadap/internal/dap"
	"github.com/dshills/luadap/internal/log"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}
	if opts.portSet {
		cfg.Port = opts.port
		if !opts.stdioSet {
			cfg.Stdio = false
		}
	}
	if opts.stdioSet {
		cfg.Stdio = opts.stdio
	}
	if opts.logLevelSet {
		cfg.LogLevel = opts.logLevel
	}
	if opts.pauseOnEntrySet {
		cfg.PauseOnEntry = opts.pauseOnEntry
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel)})

	interrupted, stop := signalChannel()
	defer stop()

	if cfg.Port > 0 && !cfg.Stdio {
		server := dap.NewServer(cfg.Port, logger, cfg.PauseOnEntry)
		go func() {
			<-interrupted
			os.Exit(0)
		}()
		if err := server.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	transport := dap.NewStdioTransport(os.Stdin, os.Stdout)
	session := dap.NewSession(transport, logger, cfg.PauseOnEntry)
	serveErr := make(chan error, 1)
	go func() { serveErr <- session.Serve() }()

	select {
	case err := <-serveErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case <-interrupted:
		return 0
	}
}

func signalChannel() (doneCh chan struct{}, stop func()) {
	ch := make(chan struct{})
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		close(ch)
	}()
	return ch, func() { signal.Stop(signals) }
}

type cliOptions struct {
	configPath string

	port    int
	portSet bool

	stdio    bool
	stdioSet bool

	logLevel    string
	logLevelSet bool

	pauseOnEntry    bool
	pauseOnEntrySet bool

	showVersion bool
	showHelp    bool
}

func parseFlags() cliOptions {
	var opts cliOptions
	var port int
	var stdio, pauseOnEntry bool
	var logLevel string

	flag.StringVar(&opts.configPath, "config", "", "Path to a TOML configuration file")
	flag.IntVar(&port, "port", 0, "TCP port to listen on (0 means stdio)")
	flag.BoolVar(&stdio, "stdio", false, "Force stdio transport even if -port is set")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&pauseOnEntry, "pause-on-entry", false, "Stop at the first statement of every launched script by default")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version information")
	flag.BoolVar(&opts.showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "luadap - Debug Adapter Protocol bridge for embedded Lua scripts\n\n")
		fmt.Fprintf(os.Stderr, "Usage: luadap [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if opts.showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if opts.showVersion {
		fmt.Printf("luadap %s (commit %s, built %s)\n", version, commit, date)
		os.Exit(0)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			opts.port, opts.portSet = port, true
		case "stdio":
			opts.stdio, opts.stdioSet = stdio, true
		case "log-level":
			opts.logLevel, opts.logLevelSet = logLevel, true
		case "pause-on-entry":
			opts.pauseOnEntry, opts.pauseOnEntrySet = pauseOnEntry, true
		}
	})

	return opts
}
