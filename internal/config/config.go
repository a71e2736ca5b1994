package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v3"

	"hlscast/internal/transcode"
)

const EnvPrefix = "HLSCAST"

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Queue: QueueConfig{
			Driver:            QueueDriverSQS,
			Name:              "transcode",
			Region:            "ap-south-1",
			WaitSeconds:       20,
			MaxMessages:       1,
			IdleDelay:         5 * time.Second,
			VisibilityTimeout: 5 * time.Minute,
			AckAttempts:       3,
		},
		Storage: StorageConfig{
			Region:            "ap-south-1",
			UploadConcurrency: 4,
		},
		Database: DatabaseConfig{MaxConns: 4},
		Registry: RegistryConfig{
			Driver: RegistryDriverRedis,
			Addr:   "localhost:6379",
		},
		Notifier: NotifierConfig{
			Mode:           NotifierModeHTTP,
			Endpoint:       "http://localhost:8080/notify",
			Region:         "ap-south-1",
			Listen:         ":8080",
			WriteTimeout:   5 * time.Second,
			Heartbeat:      30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Transcode: TranscodeConfig{
			FFmpeg:         "ffmpeg",
			SegmentSeconds: transcode.DefaultSegmentSeconds,
			ReferenceWidth: transcode.DefaultReferenceWidth,
			Renditions:     transcode.DefaultCatalog(),
		},
	}
}

// Load reads defaults, then the optional YAML file at path, then
// HLSCAST_* environment variables and any flags already bound to v.
func Load(v *viper.Viper, path string) (*Config, error) {
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Queue.Driver {
	case QueueDriverSQS, QueueDriverAMQP:
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}
	if c.Queue.WaitSeconds < 0 || c.Queue.WaitSeconds > 20 {
		return errors.New("queue wait_seconds must be between 0 and 20")
	}
	if c.Queue.MaxMessages < 1 || c.Queue.MaxMessages > 10 {
		return errors.New("queue max_messages must be between 1 and 10")
	}
	if c.Queue.IdleDelay <= 0 {
		return errors.New("queue idle_delay must be positive")
	}
	if c.Queue.AckAttempts < 1 {
		return errors.New("queue ack_attempts must be positive")
	}

	switch c.Registry.Driver {
	case RegistryDriverRedis, RegistryDriverMemory:
	default:
		return fmt.Errorf("unknown registry driver %q", c.Registry.Driver)
	}

	switch c.Notifier.Mode {
	case NotifierModeHTTP:
	case NotifierModeAPIGateway:
		// the worker only reads the registry; channels are written by the
		// WebSocket side, so both must share an external store
		if c.Registry.Driver == RegistryDriverMemory {
			return errors.New("notifier mode apigateway needs the redis registry driver")
		}
		if c.Notifier.GatewayEndpoint == "" {
			return errors.New("notifier gateway_endpoint required in apigateway mode")
		}
	default:
		return fmt.Errorf("unknown notifier mode %q", c.Notifier.Mode)
	}

	if c.Transcode.SegmentSeconds <= 0 {
		return errors.New("transcode segment_seconds must be positive")
	}
	if c.Transcode.ReferenceWidth <= 0 {
		return errors.New("transcode reference_width must be positive")
	}
	return transcode.ValidateCatalog(c.Transcode.Renditions)
}

func (c Config) Export() ([]byte, error) {
	sb := strings.Builder{}
	sb.WriteString("######################\n")
	sb.WriteString("### hlscast Config ###\n")
	sb.WriteString("######################\n\n")

	d, err := yaml.Marshal(&c)
	if err != nil {
		return nil, err
	}

	sb.Write(d)

	sb.WriteString("\n######################\n")

	return []byte(sb.String()), nil
}
