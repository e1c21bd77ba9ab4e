package config

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/hydrosense/importworker/internal/worker"
)

// Config is the worker's runtime configuration, loaded from flags with
// YAML-file fallbacks.
type Config struct {
	App
	Bus
	Web
	Storage
	Metrics
}

type App struct {
	// Hostname overrides os.Hostname for subscribe-subject templates.
	Hostname string

	// Key names this worker instance, e.g. "import".
	Key string

	// TempPath is the base directory for per-job file workspaces.
	TempPath string

	// SourcesFile points at the YAML file listing the job sources.
	SourcesFile string

	// CheckInterval is how often the subscription set is reconciled.
	CheckInterval time.Duration
}

type Bus struct {
	System          string
	NATSURL         string
	JetStreamStream string
	KafkaBrokers    []string
	KafkaGroup      string
	RabbitMQURL     string
}

type Web struct {
	URL          string
	AuthEmail    string
	AuthPassword string
	Timeout      time.Duration
}

type Storage struct {
	LocalPath  string
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string
}

type Metrics struct {
	Enabled bool
	Addr    string
}

func Load(cmd *cli.Command) *Config {
	return &Config{
		App: App{
			Hostname:      cmd.String("hostname"),
			Key:           cmd.String("key"),
			TempPath:      cmd.String("temp-path"),
			SourcesFile:   cmd.String("sources-file"),
			CheckInterval: cmd.Duration("check-interval"),
		},
		Bus: Bus{
			System:          cmd.String("bus-system"),
			NATSURL:         cmd.String("nats-url"),
			JetStreamStream: cmd.String("jetstream-stream"),
			KafkaBrokers:    cmd.StringSlice("kafka-brokers"),
			KafkaGroup:      cmd.String("kafka-group"),
			RabbitMQURL:     cmd.String("rabbitmq-url"),
		},
		Web: Web{
			URL:          cmd.String("web-url"),
			AuthEmail:    cmd.String("web-auth-email"),
			AuthPassword: cmd.String("web-auth-password"),
			Timeout:      cmd.Duration("web-timeout"),
		},
		Storage: Storage{
			LocalPath:  cmd.String("storage-local-path"),
			S3Bucket:   cmd.String("storage-s3-bucket"),
			S3Prefix:   cmd.String("storage-s3-prefix"),
			S3Region:   cmd.String("storage-s3-region"),
			S3Endpoint: cmd.String("storage-s3-endpoint"),
		},
		Metrics: Metrics{
			Enabled: cmd.Bool("metrics"),
			Addr:    cmd.String("metrics-addr"),
		},
	}
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Bus.System {
	case "channel":
	case "nats", "jetstream":
		if c.Bus.NATSURL == "" {
			return fmt.Errorf("bus system %q requires a NATS URL", c.Bus.System)
		}
	case "kafka":
		if len(c.Bus.KafkaBrokers) == 0 {
			return fmt.Errorf("bus system %q requires broker addresses", c.Bus.System)
		}
	case "rabbitmq":
		if c.Bus.RabbitMQURL == "" {
			return fmt.Errorf("bus system %q requires an AMQP URL", c.Bus.System)
		}
	default:
		return fmt.Errorf("unknown bus system %q", c.Bus.System)
	}

	if c.Web.URL == "" {
		return fmt.Errorf("web API URL is required")
	}
	if c.App.SourcesFile == "" {
		return fmt.Errorf("sources file is required")
	}
	return nil
}

// String renders the effective settings with credentials redacted.
func (c *Config) String() string {
	redacted := *c
	if redacted.Web.AuthPassword != "" {
		redacted.Web.AuthPassword = "[redacted]"
	}
	return fmt.Sprintf("%+v", redacted)
}

// transport.Config implementation.

func (c *Config) GetBusSystem() string          { return c.Bus.System }
func (c *Config) GetNATSURL() string            { return c.Bus.NATSURL }
func (c *Config) GetJetStreamStream() string    { return c.Bus.JetStreamStream }
func (c *Config) GetKafkaBrokers() []string     { return c.Bus.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string { return c.Bus.KafkaGroup }
func (c *Config) GetRabbitMQURL() string        { return c.Bus.RabbitMQURL }

// sourcesFile mirrors the sources YAML document: defaults merged under
// each listed source.
type sourcesFile struct {
	SourceDefaults map[string]any   `yaml:"source_defaults"`
	Sources        []map[string]any `yaml:"sources"`
}

// LoadSources reads and decodes the sources file named by the config.
func (c *Config) LoadSources() ([]worker.Source, error) {
	data, err := os.ReadFile(c.App.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var doc sourcesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode sources file: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("sources file %q lists no sources", c.App.SourcesFile)
	}

	return worker.ParseSources(doc.Sources, doc.SourceDefaults)
}
