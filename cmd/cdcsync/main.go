// Command cdcsync mirrors one table from a CDC topic into a SQL destination.
//
// Configuration comes from an optional YAML file (-config) overlaid with
// environment variables such as KAFKA_BOOTSTRAP_SERVERS, KAFKA_TOPIC and
// CLOUD_DB_CONNECTION.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/drblury/cdcsync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cdcsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := cdcsync.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := cdcsync.NewLogger(cdcsync.LoggerOptions{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
	})
	if err != nil {
		return err
	}

	// The router stops on SIGINT and SIGTERM.
	ctx := context.Background()
	svc, err := cdcsync.NewService(ctx, cfg, logger, cdcsync.ServiceDependencies{
		Hooks: cdcsync.AlertingHooks(func(mc cdcsync.MessageContext, out cdcsync.Outcome) {
			if out.Dropped {
				logger.Error("Change was not applied", out.Err, cdcsync.LogFields{
					"message_uuid":  mc.MessageUUID,
					"dead_lettered": out.DeadLettered,
				})
			}
		}),
	})
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Change consumer stopped", nil)
	return nil
}
