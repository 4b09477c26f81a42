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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/readers"
	"github.com/aaronlmathis/flowdigest/storage"
	"github.com/aaronlmathis/flowdigest/writers"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.parquet|s3://bucket/key>",
	Short: "Print a Parquet summary export",
	Long: `Print the layout of a Parquet summary export followed by its rows in the
summary CSV format.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("rows-only", false, "print only the summary CSV")
}

// parseS3URI splits s3://bucket/key. ok is false for anything else.
func parseS3URI(uri string) (target core.Target, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return core.Target{}, false
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return core.Target{}, false
	}
	return core.Target{Container: bucket, Key: key}, true
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var data []byte
	if target, ok := parseS3URI(args[0]); ok {
		awsOpts := awsOptions(cfg)
		awsCfg, err := storage.LoadAWSConfig(ctx, awsOpts)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		data, err = fetchObject(ctx, storage.NewS3Store(storage.NewS3Client(awsCfg, awsOpts)), target)
		if err != nil {
			return err
		}
	} else {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return err
		}
	}

	rowsOnly, _ := cmd.Flags().GetBool("rows-only")
	return inspectParquet(ctx, cmd.OutOrStdout(), data, rowsOnly)
}

func fetchObject(ctx context.Context, store core.ObjectStore, target core.Target) ([]byte, error) {
	body, err := store.Get(ctx, target.Container, target.Key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// inspectParquet writes the file layout and the decoded summary to w.
func inspectParquet(ctx context.Context, w io.Writer, data []byte, rowsOnly bool) error {
	reader, err := readers.NewSummaryParquetReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer reader.Close()

	if !rowsOnly {
		fmt.Fprintf(w, "File has %d rows in %d row groups\n", reader.NumRows(), reader.NumRowGroups())
		fields := reader.Schema().Fields()
		fmt.Fprintf(w, "Schema has %d fields:\n", len(fields))
		for i, field := range fields {
			fmt.Fprintf(w, "  Field %d: %s (%s)\n", i, field.Name, field.Type)
		}
		metadata := reader.Metadata()
		for _, key := range reader.MetadataKeys() {
			fmt.Fprintf(w, "  %s = %s\n", key, metadata[key])
		}
	}

	summary, err := reader.ReadAll(ctx)
	if err != nil {
		return err
	}
	encoded, err := writers.EncodeSummaryCSV(ctx, summary)
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}
