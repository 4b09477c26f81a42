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
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/spf13/cobra"

	"github.com/aaronlmathis/flowdigest"
	"github.com/aaronlmathis/flowdigest/config"
	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/ingest"
	"github.com/aaronlmathis/flowdigest/logging"
	"github.com/aaronlmathis/flowdigest/queue"
	"github.com/aaronlmathis/flowdigest/storage"
	"github.com/aaronlmathis/flowdigest/types"
)

var pollCmd = &cobra.Command{
	Use:   "poll [queue-url] [output-bucket]",
	Short: "Consume storage notifications and summarize each new object",
	Long: `Poll a queue for storage notifications. Each notification names a flow table
whose daily summary is written to the output bucket. A message is deleted only
after its summary is stored; failed messages return to the queue.`,
	Example: `  flowdigest poll https://sqs.us-east-1.amazonaws.com/123456789012/flows summaries
  flowdigest poll --backend jetstream --config /etc/flowdigest/flowdigest.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	addPollFlags(pollCmd)
}

func addPollFlags(cmd *cobra.Command) {
	cmd.Flags().String("backend", "", "queue backend: sqs, jetstream")
	cmd.Flags().Int32("max-messages", 0, "messages per receive")
	cmd.Flags().Duration("wait-time", 0, "long-poll wait per receive")
	cmd.Flags().Duration("visibility-timeout", 0, "how long a received message stays hidden")
	cmd.Flags().Int("concurrency", 0, "messages of one batch processed at once")
}

// applyPollOverrides layers positional arguments and explicitly set flags over cfg.
func applyPollOverrides(cmd *cobra.Command, args []string, cfg *config.Config) {
	if len(args) > 0 {
		cfg.Queue.URL = args[0]
	}
	if len(args) > 1 {
		cfg.Output.Bucket = args[1]
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Queue.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("max-messages") {
		cfg.Queue.MaxMessages, _ = flags.GetInt32("max-messages")
	}
	if flags.Changed("wait-time") {
		cfg.Queue.WaitTime, _ = flags.GetDuration("wait-time")
	}
	if flags.Changed("visibility-timeout") {
		cfg.Queue.VisibilityTimeout, _ = flags.GetDuration("visibility-timeout")
	}
	if flags.Changed("concurrency") {
		cfg.Queue.Concurrency, _ = flags.GetInt("concurrency")
	}
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	applyPollOverrides(cmd, args, cfg)
	if err := cfg.Validate(config.ModePoll); err != nil {
		return usageError("%w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsOpts := awsOptions(cfg)
	awsCfg, err := storage.LoadAWSConfig(ctx, awsOpts)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	s3Client := storage.NewS3Client(awsCfg, awsOpts)
	store := storage.NewS3Store(s3Client)

	q, closeQueue, err := openQueue(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	sinks, err := types.OpenSinks(ctx, types.Locations(cfg, s3manager.NewUploader(s3Client)))
	if err != nil {
		return err
	}
	defer func() {
		if err := types.CloseSinks(context.Background(), sinks); err != nil {
			logger.Error("closing sinks", logging.Error(err))
		}
	}()

	stopMetrics := startMetrics(ctx, cfg, logger)
	defer stopMetrics()

	handler := ingest.NewHandler(store, cfg.Output.Bucket,
		ingest.WithSinks(sinks...),
		ingest.WithLogger(logger),
	)

	consumer, err := flowdigest.NewConsumer().
		From(q).
		HandleWith(handler).
		WithReceiveOptions(core.ReceiveOptions{
			MaxMessages:       cfg.Queue.MaxMessages,
			WaitTime:          cfg.Queue.WaitTime,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		}).
		WithConcurrency(cfg.Queue.Concurrency).
		WithErrorBackoff(cfg.Queue.ErrorBackoff).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}

	return consumer.Run(ctx)
}

func openQueue(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *logging.Logger) (core.Queue, func(), error) {
	switch cfg.Queue.Backend {
	case config.BackendJetStream:
		jsCfg := queue.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.Stream = cfg.NATS.Stream
		jsCfg.Subject = cfg.NATS.Subject
		jsCfg.Consumer = cfg.NATS.Consumer
		if cfg.Queue.VisibilityTimeout > 0 {
			jsCfg.AckWait = cfg.Queue.VisibilityTimeout
		}

		q, err := queue.DialJetStream(ctx, jsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to jetstream: %w", err)
		}
		return q, func() {
			if err := q.Close(); err != nil {
				logger.Error("closing jetstream connection", logging.Error(err))
			}
		}, nil
	default:
		return queue.NewSQSQueue(queue.NewSQSClient(awsCfg, cfg.AWS.Endpoint), cfg.Queue.URL), func() {}, nil
	}
}
