// Package main is the guard-gateway command.
//
// USAGE:
//
//	guard-gateway [serve] [-config gateway.yaml] [-debug]
//	guard-gateway check -config gateway.yaml
//	guard-gateway version
//
// .env and .env.local in the working directory are loaded before the config
// so ${VAR} references in YAML can be satisfied from them.
package main

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/guard-gateway/internal/config"
)

// Version is set at build time via ldflags.
var Version = "v0.1.0"

const (
	colorCyan  = "\033[0;36m"
	colorRed   = "\033[0;31m"
	colorReset = "\033[0m"
)

func main() {
	// Missing env files are fine; explicit environment wins over both.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "serve":
		err = runServe(args)
	case "check":
		err = runCheck(args)
	case "version":
		fmt.Printf("guard-gateway %s\n", Version)
	case "help", "-h", "--help":
		printHelp()
	default:
		printHelp()
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sError:%s %v\n", colorRed, colorReset, err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf(`%sguard-gateway%s %s

Commands:
  serve     Run the gateway (default)
  check     Validate a config file and its rule set
  version   Print the version

Flags:
  -config   Path to the YAML config (default: configs/gateway.yaml, then built-in defaults)
  -debug    Force debug logging
`, colorCyan, colorReset, Version)
}

// defaultConfigPath is used when -config is not given and the file exists.
const defaultConfigPath = "configs/gateway.yaml"

// loadConfig reads path. An empty path falls back to defaultConfigPath, then
// to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			return config.Load(defaultConfigPath)
		}
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.MonitoringConfig, debug bool, out io.Writer) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}

	// net/http server errors go through the standard logger.
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}
