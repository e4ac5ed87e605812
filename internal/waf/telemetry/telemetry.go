// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes the WAF's Prometheus metrics, grounded almost
// directly on internal/ratelimiter/telemetry/churn/prom_counters.go:
// package-level metric vars registered once in init() (always; there is no
// enable switch), and a dedicated /metrics HTTP endpoint via
// promhttp.Handler() rather than mounting it on the request-serving mux.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formwaf_requests_total",
		Help: "Total inspected requests by final verdict (allow/block/tarpit/captcha/monitor/flag/skipped).",
	}, []string{"verdict"})

	decisionScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "formwaf_decision_score",
		Help:    "Distribution of the executor's aggregated score per request.",
		Buckets: []float64{0, 10, 25, 50, 75, 100, 150, 250, 500},
	})

	executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "formwaf_executor_duration_seconds",
		Help:    "Wall-clock time the Defense Profile Executor spent per request.",
		Buckets: prometheus.DefBuckets,
	})

	executionSlowTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formwaf_executor_slow_total",
		Help: "Requests whose executor run exceeded settings.max_execution_time_ms.",
	})

	syncTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formwaf_sync_ticks_total",
		Help: "Sync Coordinator ticks by outcome (ok/error).",
	}, []string{"outcome"})

	syncTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "formwaf_sync_tick_duration_seconds",
		Help:    "Wall-clock time a single sync tick (pull + convert + swap) took.",
		Buckets: prometheus.DefBuckets,
	})

	cacheVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formwaf_cache_version",
		Help: "Monotonic version of the currently-visible hot cache snapshot.",
	})

	captchaIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formwaf_captcha_challenges_issued_total",
		Help: "CAPTCHA challenges issued.",
	})

	captchaVerifiedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formwaf_captcha_verifications_total",
		Help: "CAPTCHA verification attempts by outcome (ok/failed/provider_error).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		decisionScore,
		executionDuration,
		executionSlowTotal,
		syncTicksTotal,
		syncTickDuration,
		cacheVersion,
		captchaIssuedTotal,
		captchaVerifiedTotal,
	)
}

// ObserveDecision records one request's final verdict, score, and executor
// wall time.
func ObserveDecision(verdict string, score int, slow bool, elapsed time.Duration) {
	requestsTotal.WithLabelValues(verdict).Inc()
	decisionScore.Observe(float64(score))
	executionDuration.Observe(elapsed.Seconds())
	if slow {
		executionSlowTotal.Inc()
	}
}

// ObserveSyncTick records one Sync Coordinator tick's outcome and duration.
func ObserveSyncTick(ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	syncTicksTotal.WithLabelValues(outcome).Inc()
	syncTickDuration.Observe(elapsed.Seconds())
}

// SetCacheVersion reports the hot cache's currently-visible snapshot
// version, for alerting on a stalled sync loop.
func SetCacheVersion(v int64) {
	cacheVersion.Set(float64(v))
}

// ObserveCaptchaIssued records one challenge issuance.
func ObserveCaptchaIssued() {
	captchaIssuedTotal.Inc()
}

// ObserveCaptchaVerified records one verification attempt's outcome:
// "ok", "failed", or "provider_error".
func ObserveCaptchaVerified(outcome string) {
	captchaVerifiedTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the /metrics handler that Serve mounts on its own server,
// mirroring the
// teacher's opt-in MetricsAddr knob (metrics are otherwise inert — every
// Observe* call above is cheap even if nothing ever scrapes them).
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a standalone metrics server on addr and blocks until ctx is
// canceled or the server errors. Intended to run in its own goroutine from
// cmd/formwaf.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
