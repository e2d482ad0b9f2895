package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm"
)

func main() {
	config, err := atm.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(config.LogLevel)}))

	app := atm.NewApp(logger, config)

	pins, closePins, err := pinVerifier(config)
	if err != nil {
		logger.Error("setting up pin verifier", slog.Any("err", err))
		os.Exit(1)
	}
	defer closePins()
	app.PINVerifier = pins

	if err := app.Start(); err != nil {
		logger.Error("starting app", slog.Any("err", err))
		app.Shutdown()
		closePins()
		os.Exit(1)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	app.Shutdown()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
