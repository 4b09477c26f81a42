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

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/aaronlmathis/flowdigest/config"
	"github.com/aaronlmathis/flowdigest/logging"
	"github.com/aaronlmathis/flowdigest/metrics"
	"github.com/aaronlmathis/flowdigest/storage"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "flowdigest",
	Short: "Summarize network flow tables into daily traffic reports",
	Long: `flowdigest turns network flow exports into daily traffic summaries.

In poll mode it consumes storage notifications from a queue and summarizes each
new object as it arrives. In backfill mode it summarizes every object already
present in a bucket.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./flowdigest.yaml or /etc/flowdigest/flowdigest.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json, text")
}

// loadConfig reads configuration and builds the logger. Logs go to stderr so reports on stdout
// stay clean.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger := logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)
	return cfg, logger, nil
}

func awsOptions(cfg *config.Config) storage.AWSOptions {
	return storage.AWSOptions{
		Region:  cfg.AWS.Region,
		Profile: cfg.AWS.Profile,
		Credentials: aws.Credentials{
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			SessionToken:    cfg.AWS.SessionToken,
		},
		EndpointURL:    cfg.AWS.Endpoint,
		ForcePathStyle: cfg.AWS.PathStyle,
	}
}

// startMetrics serves /metrics when enabled and returns a shutdown func.
func startMetrics(ctx context.Context, cfg *config.Config, logger *logging.Logger) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}

	srv := metrics.NewServer(cfg.Metrics.Addr)
	errc := make(chan error, 1)
	srv.Start(errc)
	logger.InfoContext(ctx, "metrics server listening", "addr", cfg.Metrics.Addr)

	go func() {
		select {
		case err := <-errc:
			logger.ErrorContext(ctx, "metrics server failed", logging.Error(err))
		case <-ctx.Done():
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", logging.Error(err))
		}
	}
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("invalid configuration: "+format, args...)
}
