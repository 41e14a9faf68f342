package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds parsed flag values for one `topic` subcommand invocation.
type cliConfig struct {
	subcommand  string
	topic       string
	logLevel    string
	timeout     time.Duration // -t seconds: list/info discovery timeout
	window      time.Duration // -w window: hz rolling rate window
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	if len(args) == 0 {
		return nil, errors.New("usage: nitros topic {list|echo|hz|info} [flags]")
	}

	cfg := &cliConfig{}
	if args[0] == "-version" || args[0] == "--version" {
		cfg.showVersion = true
		return cfg, nil
	}
	if args[0] != "topic" {
		return nil, fmt.Errorf("unknown command %q (expected %q)", args[0], "topic")
	}
	if len(args) < 2 {
		return nil, errors.New("usage: nitros topic {list|echo|hz|info} [flags]")
	}
	cfg.subcommand = args[1]
	rest := args[2:]

	fs := flag.NewFlagSet("nitros topic "+cfg.subcommand, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	var timeoutSeconds int
	var windowSeconds int
	switch cfg.subcommand {
	case "list", "info":
		fs.IntVar(&timeoutSeconds, "t", 5, "Discovery timeout in seconds")
	case "hz":
		fs.IntVar(&windowSeconds, "w", 1, "Rolling rate averaging window in seconds")
	}

	switch cfg.subcommand {
	case "list":
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
	case "echo", "hz", "info":
		if len(rest) == 0 || rest[0] == "" {
			return nil, errors.New("topic name is required")
		}
		cfg.topic = rest[0]
		if err := fs.Parse(rest[1:]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown subcommand %q", cfg.subcommand)
	}

	cfg.timeout = time.Duration(timeoutSeconds) * time.Second
	cfg.window = time.Duration(windowSeconds) * time.Second

	if cfg.subcommand == "list" || cfg.subcommand == "info" {
		if cfg.timeout <= 0 {
			return nil, errors.New("-t must be positive")
		}
	}
	if cfg.subcommand == "hz" {
		if cfg.window <= 0 {
			return nil, errors.New("-w must be positive")
		}
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}
