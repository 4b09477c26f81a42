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

	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/spf13/cobra"

	"github.com/aaronlmathis/flowdigest/config"
	"github.com/aaronlmathis/flowdigest/ingest"
	"github.com/aaronlmathis/flowdigest/logging"
	"github.com/aaronlmathis/flowdigest/storage"
	"github.com/aaronlmathis/flowdigest/types"
	"github.com/aaronlmathis/flowdigest/writers"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Summarize every object already in a bucket",
	Long: `Run every object of the input bucket through the summarizer once and print
one result per object. The command exits non-zero if any object failed.`,
	Example: `  flowdigest backfill --input-bucket raw-flows --output-bucket summaries
  flowdigest backfill --input-bucket raw-flows --output-bucket summaries --prefix 2024/02/ --output json`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	addBackfillFlags(backfillCmd)
}

func addBackfillFlags(cmd *cobra.Command) {
	cmd.Flags().String("input-bucket", "", "bucket holding the flow tables")
	cmd.Flags().String("output-bucket", "", "bucket summaries are written to")
	cmd.Flags().String("prefix", "", "only process keys under this prefix")
	cmd.Flags().StringP("output", "o", "text", "report format: text, json")
}

func applyBackfillOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input-bucket") {
		cfg.Backfill.InputBucket, _ = flags.GetString("input-bucket")
	}
	if flags.Changed("output-bucket") {
		cfg.Backfill.OutputBucket, _ = flags.GetString("output-bucket")
	}
	if flags.Changed("prefix") {
		cfg.Backfill.Prefix, _ = flags.GetString("prefix")
	}
	if cfg.Output.Parquet.Bucket == "" {
		cfg.Output.Parquet.Bucket = cfg.Backfill.OutputBucket
	}
}

func newReportWriter(format string) (ingest.ReportWriter, error) {
	switch format {
	case "text", "":
		return writers.NewTextReportWriter(os.Stdout), nil
	case "json":
		return writers.NewJSONReportWriter(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	applyBackfillOverrides(cmd, cfg)
	if err := cfg.Validate(config.ModeBackfill); err != nil {
		return usageError("%w", err)
	}

	format, _ := cmd.Flags().GetString("output")
	report, err := newReportWriter(format)
	if err != nil {
		return err
	}
	defer report.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsOpts := awsOptions(cfg)
	awsCfg, err := storage.LoadAWSConfig(ctx, awsOpts)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	s3Client := storage.NewS3Client(awsCfg, awsOpts)
	store := storage.NewS3Store(s3Client)

	sinks, err := types.OpenSinks(ctx, types.Locations(cfg, s3manager.NewUploader(s3Client)))
	if err != nil {
		return err
	}
	defer func() {
		if err := types.CloseSinks(context.Background(), sinks); err != nil {
			logger.Error("closing sinks", logging.Error(err))
		}
	}()

	handler := ingest.NewHandler(store, cfg.Backfill.OutputBucket,
		ingest.WithSinks(sinks...),
		ingest.WithLogger(logger),
	)
	backfill := ingest.NewBackfill(store, handler, ingest.WithBackfillLogger(logger))

	result, err := backfill.Run(ctx, cfg.Backfill.InputBucket, cfg.Backfill.Prefix, report)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d objects failed", result.Failed, result.Objects)
	}
	return nil
}
