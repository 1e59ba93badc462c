// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics holds the daemon's Prometheus collectors and the HTTP
// exporter serving them.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cgsd"

// Metrics are the gateway collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	withdrawals  *prometheus.CounterVec
	upstream     *prometheus.HistogramVec
	cashRegister *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawals by outcome.",
		}, []string{"outcome"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_seconds",
			Help:      "Latency of upstream API calls by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		cashRegister: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cash_register_balance_satoshi",
			Help:      "Last reconciled final balance of a cash register.",
		}, []string{"address"}),
	}

	m.registry.MustRegister(
		m.withdrawals,
		m.upstream,
		m.cashRegister,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(
			prometheus.ProcessCollectorOpts{},
		),
	)
	return m
}

// ObserveWithdrawal counts a finished withdrawal.
func (m *Metrics) ObserveWithdrawal(outcome string) {
	m.withdrawals.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records the latency of an upstream call.
func (m *Metrics) ObserveUpstream(op string, elapsed time.Duration) {
	m.upstream.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetCashRegister records the final balance of a cash register.
func (m *Metrics) SetCashRegister(address string, final btcutil.Amount) {
	m.cashRegister.WithLabelValues(address).Set(float64(final))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server exports the metrics on /metrics.
type Server struct {
	httpServer http.Server
	listener   net.Listener

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates an exporter for m on lis. Start must be called to begin
// serving.
func NewServer(m *Metrics, lis net.Listener) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &Server{
		httpServer: http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: lis,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Infof("Prometheus exporter started on %v/metrics",
			s.listener.Addr())
		err := s.httpServer.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Prometheus exporter stopped: %v", err)
		}
	}()
}

// Stop shuts the exporter down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Warnf("Cannot shut down Prometheus exporter: %v", err)
		}
		s.wg.Wait()
	})
}
