//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/touka-aoi/low-level-relay/core/logging"
	"github.com/touka-aoi/low-level-relay/middleware"
	"github.com/touka-aoi/low-level-relay/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// 環境変数 -> フラグの順に上書きする
	config := server.DefaultConfig()
	config.ApplyEnv(os.Getenv)
	parsed, argErr := server.ParseArgs(args, config)
	if errors.Is(argErr, flag.ErrHelp) {
		server.PrintUsage(os.Stdout)
		return 0
	}
	config = parsed

	logLevel := slog.LevelInfo
	if config.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logging.NewHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if argErr != nil {
		slog.Error("incorrect arguments", "args", args, "error", argErr, "timeout", config.IdleTimeout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stats middleware.Stats
	pipeline := middleware.NewPipeline().
		Use(middleware.Logging()).
		Use(stats.Middleware())

	networkServer, err := server.NewNetworkServer(config, server.WithPipeline(pipeline))
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		return 1
	}

	if err := networkServer.Listen(ctx); err != nil {
		slog.Error("Failed to bind", "port", config.Port, "error", err)
		return 1
	}

	if err := networkServer.Serve(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return 1
	}

	slog.Info("Server stopped", "inbound", &stats)
	return 0
}
