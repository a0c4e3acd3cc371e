// Command bridge serves the event bridge API and runs remote runtimes
// against it.
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/welldanyogia/event-bridge/backend/internal/config"
	"github.com/welldanyogia/event-bridge/backend/internal/logger"
)

var version = "dev"

// Globals is passed to every command's Run.
type Globals struct {
	Logger *slog.Logger
}

// CLI is the root command.
type CLI struct {
	EnvFile  []string         `name:"env-file" help:"Environment files to load before reading configuration" default:".env"`
	LogLevel string           `name:"log-level" help:"Log level (debug, info, warn, error); overrides LOG_LEVEL"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve  ServeCmd  `cmd:"" help:"Serve the bridge API, runtime stream and headless service"`
	Token  TokenCmd  `cmd:"" help:"Print a signed runtime or producer token"`
	Listen ListenCmd `cmd:"" help:"Run a remote runtime that prints delivered events"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bridge"),
		kong.Description("Native-to-runtime event bridge."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if err := config.LoadDotEnv(cli.EnvFile...); err != nil {
		ctx.FatalIfErrorf(err)
	}

	logCfg := logger.DefaultConfig()
	if cli.LogLevel != "" {
		logCfg.Level = cli.LogLevel
	}
	if ctx.Command() == "listen" {
		// stdout carries the delivered events
		logCfg.Output = "stderr"
	}
	log := logger.New(logCfg)
	slog.SetDefault(log)

	if err := ctx.Run(&Globals{Logger: log}); err != nil {
		log.Error("command failed", slog.String("command", ctx.Command()), slog.String("error", err.Error()))
		os.Exit(1)
	}
}
