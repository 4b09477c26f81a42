//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of FlowDigest.
//
// FlowDigest is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// FlowDigest is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with FlowDigest. If not, see https://www.gnu.org/licenses/.

// Package config loads FlowDigest configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLOWDIGEST_QUEUE_URL.
const EnvPrefix = "FLOWDIGEST"

// Mode selects which entry point a configuration is validated for.
type Mode int

const (
	ModePoll Mode = iota
	ModeBackfill
)

// Queue backends.
const (
	BackendSQS       = "sqs"
	BackendJetStream = "jetstream"
)

// Config is the complete FlowDigest configuration.
type Config struct {
	Queue    QueueConfig    `mapstructure:"queue"`
	NATS     NATSConfig     `mapstructure:"nats"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Output   OutputConfig   `mapstructure:"output"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// QueueConfig holds the consumption loop settings
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"`
	URL               string        `mapstructure:"url"`
	MaxMessages       int32         `mapstructure:"max_messages"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// NATSConfig holds the JetStream backend settings
type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Stream   string `mapstructure:"stream"`
	Consumer string `mapstructure:"consumer"`
	Subject  string `mapstructure:"subject"`
}

// AWSConfig holds shared AWS client settings
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// OutputConfig holds where summaries go
type OutputConfig struct {
	Bucket  string        `mapstructure:"bucket"`
	Parquet ParquetConfig `mapstructure:"parquet"`
}

// ParquetConfig holds the optional Parquet export settings
type ParquetConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
}

// PostgresConfig holds the optional PostgreSQL sink settings
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// MongoConfig holds the optional MongoDB sink settings
type MongoConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// BackfillConfig holds batch mode settings
type BackfillConfig struct {
	InputBucket  string `mapstructure:"input_bucket"`
	OutputBucket string `mapstructure:"output_bucket"`
	Prefix       string `mapstructure:"prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from path (or $FLOWDIGEST_CONFIG, or flowdigest.yaml in the working
// directory or /etc/flowdigest) and environment variables. An explicitly named file must exist;
// a missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowdigest")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/flowdigest")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and nothing else.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Queue defaults
	v.SetDefault("queue.backend", BackendSQS)
	v.SetDefault("queue.url", "")
	v.SetDefault("queue.max_messages", 5)
	v.SetDefault("queue.wait_time", "10s")
	v.SetDefault("queue.visibility_timeout", "30s")
	v.SetDefault("queue.error_backoff", "5s")
	v.SetDefault("queue.concurrency", 1)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "OBJECT_EVENTS")
	v.SetDefault("nats.consumer", "flowdigest")
	v.SetDefault("nats.subject", "storage.events.>")

	// AWS defaults
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.path_style", false)
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")

	// Output defaults
	v.SetDefault("output.bucket", "")
	v.SetDefault("output.parquet.enabled", false)
	v.SetDefault("output.parquet.bucket", "")

	// Secondary sink defaults
	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "daily_traffic")
	v.SetDefault("mongo.enabled", false)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "flowdigest")
	v.SetDefault("mongo.collection", "daily_traffic")
	v.SetDefault("mongo.timeout", "10s")

	// Backfill defaults
	v.SetDefault("backfill.input_bucket", "")
	v.SetDefault("backfill.output_bucket", "")
	v.SetDefault("backfill.prefix", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// Validate reports the first setting that makes cfg unusable for mode.
func (c *Config) Validate(mode Mode) error {
	switch mode {
	case ModePoll:
		switch c.Queue.Backend {
		case BackendSQS:
			if c.Queue.URL == "" {
				return errors.New("queue.url is required for the sqs backend")
			}
		case BackendJetStream:
			if c.NATS.URL == "" || c.NATS.Stream == "" || c.NATS.Consumer == "" {
				return errors.New("nats.url, nats.stream and nats.consumer are required for the jetstream backend")
			}
		default:
			return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
		}
		if c.Output.Bucket == "" {
			return errors.New("output.bucket is required")
		}
		if c.Queue.MaxMessages < 1 {
			return fmt.Errorf("queue.max_messages must be positive, got %d", c.Queue.MaxMessages)
		}
		if c.Queue.Concurrency < 1 {
			return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
		}
	case ModeBackfill:
		if c.Backfill.InputBucket == "" || c.Backfill.OutputBucket == "" {
			return errors.New("backfill.input_bucket and backfill.output_bucket are required")
		}
	default:
		return fmt.Errorf("unknown mode %d", mode)
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required when postgres.enabled is set")
	}
	if c.Mongo.Enabled && c.Mongo.URI == "" {
		return errors.New("mongo.uri is required when mongo.enabled is set")
	}
	return nil
}
