package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/probegate/probegate/internal/app"
	"github.com/probegate/probegate/internal/config"
)

// main runs the gateway and exits on unrecoverable errors.
func main() {
	if errRun := run(context.Background(), os.Args[1:]); errRun != nil && !errors.Is(errRun, http.ErrServerClosed) {
		log.WithError(errRun).Error("gateway failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the server.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("probegate", flag.ContinueOnError)
	port := fs.Int("port", 0, "listen port (overrides PORT)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	cfg, errLoad := config.LoadFromEnv()
	if errLoad != nil {
		return errLoad
	}
	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
		cfg.Port = *port
	}

	return app.RunServer(ctx, cfg)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
