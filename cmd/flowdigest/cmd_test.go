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
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/flowdigest/config"
	"github.com/aaronlmathis/flowdigest/core"
	"github.com/aaronlmathis/flowdigest/writers"
)

func TestCommandsRegistered(t *testing.T) {
	found := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	assert.True(t, found["poll"])
	assert.True(t, found["backfill"])
	assert.True(t, found["inspect"])

	for _, name := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestPollOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "poll"}
	addPollFlags(cmd)
	require.NoError(t, cmd.Flags().Set("max-messages", "10"))
	require.NoError(t, cmd.Flags().Set("wait-time", "20s"))
	require.NoError(t, cmd.Flags().Set("concurrency", "3"))

	cfg := config.Default()
	applyPollOverrides(cmd, []string{"https://sqs.example/flows", "summaries"}, cfg)

	assert.Equal(t, "https://sqs.example/flows", cfg.Queue.URL)
	assert.Equal(t, "summaries", cfg.Output.Bucket)
	assert.Equal(t, int32(10), cfg.Queue.MaxMessages)
	assert.Equal(t, 20*time.Second, cfg.Queue.WaitTime)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Queue.VisibilityTimeout, "unset flags keep configured values")
	assert.Equal(t, config.BackendSQS, cfg.Queue.Backend)
	assert.NoError(t, cfg.Validate(config.ModePoll))
}

func TestPollOverridesWithoutArgs(t *testing.T) {
	cmd := &cobra.Command{Use: "poll"}
	addPollFlags(cmd)
	require.NoError(t, cmd.Flags().Set("backend", "jetstream"))

	cfg := config.Default()
	cfg.Queue.URL = "from-config"
	applyPollOverrides(cmd, nil, cfg)

	assert.Equal(t, "from-config", cfg.Queue.URL)
	assert.Equal(t, config.BackendJetStream, cfg.Queue.Backend)
	assert.Error(t, cfg.Validate(config.ModePoll), "output bucket is still missing")
}

func TestBackfillOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "backfill"}
	addBackfillFlags(cmd)
	require.NoError(t, cmd.Flags().Set("input-bucket", "raw"))
	require.NoError(t, cmd.Flags().Set("output-bucket", "summaries"))
	require.NoError(t, cmd.Flags().Set("prefix", "2024/"))

	cfg := config.Default()
	applyBackfillOverrides(cmd, cfg)

	assert.Equal(t, "raw", cfg.Backfill.InputBucket)
	assert.Equal(t, "summaries", cfg.Backfill.OutputBucket)
	assert.Equal(t, "2024/", cfg.Backfill.Prefix)
	assert.Equal(t, "summaries", cfg.Output.Parquet.Bucket)
	assert.NoError(t, cfg.Validate(config.ModeBackfill))
}

func TestNewReportWriter(t *testing.T) {
	w, err := newReportWriter("text")
	require.NoError(t, err)
	assert.IsType(t, &writers.TextReportWriter{}, w)

	w, err = newReportWriter("json")
	require.NoError(t, err)
	assert.IsType(t, &writers.JSONReportWriter{}, w)

	_, err = newReportWriter("xml")
	assert.Error(t, err)
}

func TestAWSOptions(t *testing.T) {
	cfg := config.Default()
	cfg.AWS.Region = "eu-west-1"
	cfg.AWS.Endpoint = "http://localhost:4566"
	cfg.AWS.PathStyle = true
	cfg.AWS.AccessKeyID = "AKIA"
	cfg.AWS.SecretAccessKey = "secret"

	opts := awsOptions(cfg)
	assert.Equal(t, "eu-west-1", opts.Region)
	assert.Equal(t, "http://localhost:4566", opts.EndpointURL)
	assert.True(t, opts.ForcePathStyle)
	assert.Equal(t, "AKIA", opts.Credentials.AccessKeyID)
	assert.Equal(t, "secret", opts.Credentials.SecretAccessKey)
}

func TestParseS3URI(t *testing.T) {
	target, ok := parseS3URI("s3://summaries/2024/daily_summary_x.parquet")
	require.True(t, ok)
	assert.Equal(t, core.Target{Container: "summaries", Key: "2024/daily_summary_x.parquet"}, target)

	for _, uri := range []string{"summary.parquet", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, ok := parseS3URI(uri)
		assert.False(t, ok, uri)
	}
}

func TestInspectParquet(t *testing.T) {
	summary := &core.DailySummary{Rows: []core.SummaryRow{{
		Key:    core.AggregationKey{Date: "2024-02-01", SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2"},
		Totals: core.Totals{FlowDuration: 120, ForwardPackets: 30},
	}}}
	data, err := writers.EncodeSummaryParquet(context.Background(), summary)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, inspectParquet(context.Background(), &out, data, true))
	assert.Equal(t,
		"date,source_ip,destination_ip,total_flow_duration,total_forward_packets\n"+
			"2024-02-01,10.0.0.1,10.0.0.2,120,30\n",
		out.String())

	out.Reset()
	require.NoError(t, inspectParquet(context.Background(), &out, data, false))
	assert.Contains(t, out.String(), "File has 1 rows in 1 row groups\n")
	assert.Contains(t, out.String(), "Field 0: date (utf8)")
	assert.Contains(t, out.String(), "Field 3: total_flow_duration (int64)")

	assert.Error(t, inspectParquet(context.Background(), &out, []byte("not parquet"), true))
}
