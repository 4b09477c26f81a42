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

// Package metrics holds the Prometheus collectors of the ingestion pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowdigest_messages_received_total",
			Help: "Total number of queue messages received",
		},
	)

	MessageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdigest_message_outcomes_total",
			Help: "Total number of processed messages by outcome",
		},
		[]string{"outcome"},
	)

	ReceiveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowdigest_receive_errors_total",
			Help: "Total number of failed queue receive calls",
		},
	)

	DeleteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowdigest_delete_errors_total",
			Help: "Total number of failed message acknowledgements",
		},
	)

	LoopPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowdigest_loop_panics_total",
			Help: "Total number of recovered panics in the consumption loop",
		},
	)

	// Ingestion metrics
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowdigest_processing_duration_seconds",
			Help:    "Duration of object ingestion in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdigest_processing_failures_total",
			Help: "Total number of processing failures by kind",
		},
		[]string{"kind"},
	)

	Rows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdigest_rows_total",
			Help: "Total number of flow rows read by disposition",
		},
		[]string{"disposition"},
	)

	SummariesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowdigest_summaries_written_total",
			Help: "Total number of summaries written by sink",
		},
		[]string{"sink"},
	)
)

// Server exposes /metrics over HTTP.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in the background. Errors other than a clean shutdown are sent to errc.
func (s *Server) Start(errc chan<- error) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
