package config

import (
	"time"

	"hlscast/internal/transcode"
)

const (
	QueueDriverSQS  = "sqs"
	QueueDriverAMQP = "amqp"

	RegistryDriverRedis  = "redis"
	RegistryDriverMemory = "memory"

	// NotifierModeHTTP posts notify triggers to a running notifier server.
	NotifierModeHTTP = "http"
	// NotifierModeAPIGateway fans out in-process through API Gateway
	// managed WebSocket connections.
	NotifierModeAPIGateway = "apigateway"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Notifier  NotifierConfig  `mapstructure:"notifier" yaml:"notifier"`
	Transcode TranscodeConfig `mapstructure:"transcode" yaml:"transcode"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type QueueConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// URL is the SQS queue URL or the AMQP broker URL.
	URL string `mapstructure:"url" yaml:"url"`
	// Name is the AMQP queue to consume.
	Name        string `mapstructure:"name" yaml:"name"`
	Region      string `mapstructure:"region" yaml:"region"`
	WaitSeconds int32  `mapstructure:"wait_seconds" yaml:"wait_seconds"`
	MaxMessages int32  `mapstructure:"max_messages" yaml:"max_messages"`
	// IdleDelay is slept after a poll that returned nothing.
	IdleDelay time.Duration `mapstructure:"idle_delay" yaml:"idle_delay"`
	// VisibilityTimeout is re-applied to in-flight SQS messages every half
	// period while a job runs. Zero disables extension.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" yaml:"visibility_timeout"`
	AckAttempts       int           `mapstructure:"ack_attempts" yaml:"ack_attempts"`
	// MaxReceives is the receive count at which a failing job is marked
	// failed before it moves to the dead-letter queue. Zero disables it.
	MaxReceives int `mapstructure:"max_receives" yaml:"max_receives"`
}

type StorageConfig struct {
	Region       string `mapstructure:"region" yaml:"region"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey    string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey    string `mapstructure:"secret_key" yaml:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
	OutputBucket string `mapstructure:"output_bucket" yaml:"output_bucket"`
	// PublicBaseURL prefixes uploaded keys to form public references.
	// Defaults to the virtual-hosted S3 URL of the output bucket.
	PublicBaseURL     string `mapstructure:"public_base_url" yaml:"public_base_url"`
	UploadConcurrency int    `mapstructure:"upload_concurrency" yaml:"upload_concurrency"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

type RegistryConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
	TLS       bool   `mapstructure:"tls" yaml:"tls"`
}

type NotifierConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
	// Endpoint is the notify trigger URL used in http mode.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// GatewayEndpoint is the API Gateway management endpoint used in
	// apigateway mode.
	GatewayEndpoint string `mapstructure:"gateway_endpoint" yaml:"gateway_endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Listen          string `mapstructure:"listen" yaml:"listen"`
	// InstanceID prefixes the channel ids this notifier hands out. Keep it
	// stable across restarts so stale channels of a previous run are
	// recognised and pruned. Defaults to the hostname.
	InstanceID     string        `mapstructure:"instance_id" yaml:"instance_id"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	Heartbeat      time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type TranscodeConfig struct {
	FFmpeg         string                `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	ScratchDir     string                `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	SegmentSeconds int                   `mapstructure:"segment_seconds" yaml:"segment_seconds"`
	ReferenceWidth int                   `mapstructure:"reference_width" yaml:"reference_width"`
	Parallel       bool                  `mapstructure:"parallel" yaml:"parallel"`
	Renditions     []transcode.Rendition `mapstructure:"renditions" yaml:"renditions"`
}

type MetricsConfig struct {
	// Listen serves /metrics from the worker when set.
	Listen string `mapstructure:"listen" yaml:"listen"`
}
