// Command artifactd runs one configured artifact.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/purposeinplay/go-artifact/config"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "artifactd.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := execute(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execute(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	defer app.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onSignal, stopSignals := run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM)

	err = app.run(ctx, onSignal, stopSignals)

	var signalErr run.SignalError
	if errors.As(err, &signalErr) {
		app.logger.Info("received signal, shutting down", zap.Stringer("signal", signalErr.Signal))
		return nil
	}

	return err
}
