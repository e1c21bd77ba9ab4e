package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/hydrosense/importworker/internal/app"
	"github.com/hydrosense/importworker/internal/config"
)

var version = "dev"

func cmd() *cli.Command {
	return &cli.Command{
		Name:    "importworker",
		Usage:   "chunked file-import worker",
		Version: version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, ok := ctx.Value(loggerKey{}).(*slog.Logger)
			if !ok {
				return errors.New("failed to get logger from context")
			}

			cfg := config.Load(cmd)

			return app.New(log, cfg).Run(ctx)
		},
	}
}

func flags() []cli.Flag {
	var configFile string

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Validator:   validateConfig,
			Usage:       "Load configuration from `FILE`",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:    "hostname",
			Usage:   "Override the hostname used in subscribe-subject templates",
			Sources: cli.NewValueSourceChain(yaml.YAML("app.hostname", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "key",
			Usage:   "Set the worker key",
			Value:   "import",
			Sources: cli.NewValueSourceChain(yaml.YAML("app.key", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "temp-path",
			Usage:   "Set the base directory for per-job workspaces",
			Value:   filepath.Join(os.TempDir(), "importworker"),
			Sources: cli.NewValueSourceChain(yaml.YAML("app.temp_path", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:     "sources-file",
			Usage:    "Load job sources from `FILE`",
			Sources:  cli.NewValueSourceChain(yaml.YAML("app.sources_file", altsrc.NewStringPtrSourcer(&configFile))),
			Required: true,
		},
		&cli.DurationFlag{
			Name:    "check-interval",
			Usage:   "Set the subscription reconcile interval",
			Value:   500 * time.Millisecond,
			Sources: cli.NewValueSourceChain(yaml.YAML("app.check_interval", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "bus-system",
			Usage:   "Set the bus transport (channel, nats, jetstream, kafka, rabbitmq)",
			Value:   "jetstream",
			Sources: cli.NewValueSourceChain(yaml.YAML("bus.system", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "Set the NATS server URL",
			Value:   "nats://localhost:4222",
			Sources: cli.NewValueSourceChain(yaml.YAML("bus.nats_url", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "jetstream-stream",
			Usage:   "Set the JetStream stream name",
			Value:   "IMPORT",
			Sources: cli.NewValueSourceChain(yaml.YAML("bus.jetstream_stream", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Set the Kafka broker addresses",
			Sources: cli.NewValueSourceChain(yaml.YAML("bus.kafka_brokers", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "kafka-group",
			Usage:   "Set the Kafka consumer group",
			Value:   "importworker",
			Sources: cli.NewValueSourceChain(yaml.YAML("bus.kafka_group", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "rabbitmq-url",
			Usage:   "Set the RabbitMQ AMQP URL",
			Sources: cli.NewValueSourceChain(yaml.YAML("bus.rabbitmq_url", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:     "web-url",
			Usage:    "Set the web API base URL",
			Sources:  cli.NewValueSourceChain(yaml.YAML("web.url", altsrc.NewStringPtrSourcer(&configFile))),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "web-auth-email",
			Usage:   "Set the web API auth email",
			Sources: cli.NewValueSourceChain(yaml.YAML("web.auth_email", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "web-auth-password",
			Usage:   "Set the web API auth password",
			Sources: cli.NewValueSourceChain(yaml.YAML("web.auth_password", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.DurationFlag{
			Name:    "web-timeout",
			Usage:   "Set the web API request timeout",
			Value:   30 * time.Second,
			Sources: cli.NewValueSourceChain(yaml.YAML("web.timeout", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "storage-local-path",
			Usage:   "Set the drop directory for the local storage backend",
			Sources: cli.NewValueSourceChain(yaml.YAML("storage.local_path", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "storage-s3-bucket",
			Usage:   "Set the S3 bucket for the s3 storage backend",
			Sources: cli.NewValueSourceChain(yaml.YAML("storage.s3_bucket", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "storage-s3-prefix",
			Usage:   "Set the S3 key prefix",
			Sources: cli.NewValueSourceChain(yaml.YAML("storage.s3_prefix", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "storage-s3-region",
			Usage:   "Set the S3 region",
			Sources: cli.NewValueSourceChain(yaml.YAML("storage.s3_region", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "storage-s3-endpoint",
			Usage:   "Set a custom S3 endpoint",
			Sources: cli.NewValueSourceChain(yaml.YAML("storage.s3_endpoint", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.BoolFlag{
			Name:    "metrics",
			Usage:   "Serve Prometheus metrics",
			Sources: cli.NewValueSourceChain(yaml.YAML("metrics.enabled", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Set the metrics listen address",
			Value:   ":9090",
			Sources: cli.NewValueSourceChain(yaml.YAML("metrics.addr", altsrc.NewStringPtrSourcer(&configFile))),
		},
	}
}

func validateConfig(configFile string) error {
	info, err := os.Stat(configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%q does not exist", configFile)
		}
		return fmt.Errorf("failed to stat %q: %w", configFile, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", configFile)
	}

	ext := filepath.Ext(info.Name())
	if ext != ".yml" && ext != ".yaml" {
		return fmt.Errorf("invalid extension %q", configFile)
	}

	return nil
}
