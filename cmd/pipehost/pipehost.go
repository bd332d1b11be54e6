package main

import (
	"fmt"
	"log/slog"
	"os"

	"shmipe/pkg/ident"
	"shmipe/pkg/pipeconfig"
	"shmipe/pkg/pipenode"
	"shmipe/pkg/pipestack"

	flag "github.com/spf13/pflag"
)

func main() {
	configFile := flag.String("config", "", "config file (.lnx directives or .yaml)")
	capacity := flag.Uint32("capacity", pipeconfig.DefaultCapacity, "circular buffer size per channel, nonzero power of 2")
	privileged := flag.Uint32("privileged", pipeconfig.DefaultPrivileged, "identity denied access to the pipe")
	maxChannels := flag.Int("max-channels", 0, "maximum live channels, 0 for unlimited")
	listen := flag.String("listen", pipeconfig.DefaultSocketPath, "unix socket path")
	metrics := flag.String("metrics", "", "address to serve /metrics on")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	noRepl := flag.Bool("no-repl", false, "serve without the interactive console")
	flag.Parse()

	// 0. config file first, flags override it
	config := pipeconfig.Default()
	if *configFile != "" {
		var err error
		config, err = pipeconfig.ParseConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pipehost: %v\n", err)
			fmt.Fprintln(os.Stderr, "usage: pipehost [--config <file>] [flags]")
			os.Exit(2)
		}
	}
	if flag.CommandLine.Changed("capacity") {
		config.Capacity = *capacity
	}
	if flag.CommandLine.Changed("privileged") {
		config.Privileged = *privileged
	}
	if flag.CommandLine.Changed("max-channels") {
		config.MaxChannels = *maxChannels
	}
	if flag.CommandLine.Changed("listen") {
		config.Listen = *listen
	}
	if flag.CommandLine.Changed("metrics") {
		config.Metrics = *metrics
	}
	if flag.CommandLine.Changed("log-level") {
		config.LogLevel = *logLevel
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pipehost: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(config.LogLevel)
	pipestack.SetLogger(logger)
	pipenode.SetLogger(logger)

	// 1. init the service
	node, err := pipenode.New(config, ident.PeerCred{})
	if err != nil {
		logger.Error("cannot start pipe service", "error", err.Error())
		os.Exit(1)
	}

	// 2. serve the socket and metrics
	errC := make(chan error, 2)
	go func() {
		errC <- node.ListenOn(config.Listen)
	}()
	if config.Metrics != "" {
		go func() {
			errC <- node.ServeMetrics(config.Metrics)
		}()
	}

	// 3. run the repl, or block until a server fails
	if *noRepl {
		err = <-errC
	} else {
		go func() {
			if err := <-errC; err != nil {
				logger.Error("server stopped", "error", err.Error())
			}
		}()
		err = pipestack.PipeRepl(node.Pipe).Run()
	}
	node.Close()
	if err != nil {
		logger.Error("exiting", "error", err.Error())
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
