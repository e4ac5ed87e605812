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

// Package main is the form WAF's process entry point. It wires the hot
// cache, sync coordinator, defense registries, executor, CAPTCHA manager,
// audit emitter and HTTP server together, following
// cmd/ratelimiter-api/main.go's construct-then-signal-then-drain shape.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	maxminddb "github.com/oschwald/maxminddb-golang"

	"formwaf/internal/waf/api"
	"formwaf/internal/waf/audit"
	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/captcha"
	"formwaf/internal/waf/defenses"
	"formwaf/internal/waf/executor"
	"formwaf/internal/waf/logging"
	"formwaf/internal/waf/resolve"
	"formwaf/internal/waf/store"
	"formwaf/internal/waf/sync"
	"formwaf/internal/waf/telemetry"
)

func main() {
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address for the inspection/forwarding server")
	metricsAddrFlag := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	logLevel := flag.String("log_level", "info", "zerolog level: debug, info, warn, error")
	logPretty := flag.Bool("log_pretty", false, "Use a human-readable console log writer instead of JSON")
	flag.Parse()

	logging.Configure(*logLevel, *logPretty)

	// --- §6 environment variables, read at startup. ---
	redisHost := getenv("REDIS_HOST", "redis")
	redisPort := getenv("REDIS_PORT", "6379")
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := getenvInt("REDIS_DB", 0)
	syncIntervalSec := getenvInt("WAF_SYNC_INTERVAL", 30)
	haproxyUpstream := getenv("HAPROXY_UPSTREAM", "haproxy:80")
	haproxyUpstreamSSL := getenv("HAPROXY_UPSTREAM_SSL", "haproxy:443")
	upstreamSSL := getenvBool("UPSTREAM_SSL", false)
	haproxyTimeoutSec := getenvInt("HAPROXY_TIMEOUT", 30)
	useLeaderElection := getenvBool("WAF_USE_LEADER_ELECTION", false)

	// HTTP_PROXY/HTTPS_PROXY/NO_PROXY govern outbound egress (CAPTCHA
	// provider verification, GeoIP updates fetched out-of-band); net/http's
	// DefaultTransport already honors them via http.ProxyFromEnvironment,
	// so no explicit wiring is needed beyond documenting the contract here.
	_ = os.Getenv("HTTP_PROXY")
	_ = os.Getenv("HTTPS_PROXY")
	_ = os.Getenv("NO_PROXY")

	// Ambient plumbing the distilled spec doesn't name but a runnable
	// system needs: where the durable Postgres-backed CAPTCHA/audit store
	// lives, and an optional GeoIP database path.
	databaseURL := os.Getenv("DATABASE_URL")
	geoipDBPath := os.Getenv("GEOIP_DB_PATH")
	captchaVerifyURL := os.Getenv("CAPTCHA_VERIFY_URL")
	trustCookieKey := getenv("WAF_TRUST_COOKIE_KEY", "dev-only-insecure-key")

	redisAddr := fmt.Sprintf("%s:%s", redisHost, redisPort)

	// 1. Hot cache and config store client.
	hotCache := cache.New()
	kv := store.NewGoRedisKV(redisAddr, redisDB, redisPassword)
	configClient := store.NewRedisConfigClient(kv)
	seeder := store.NewSeeder(kv, kv)
	flusher := store.NewRedisFlusher(kv, 24*time.Hour)

	// 2. Defense/observation handlers.
	var geo defenses.GeoIPLookup
	if geoipDBPath != "" {
		db, err := maxminddb.Open(geoipDBPath)
		if err != nil {
			logging.Warn("main", "failed to open GeoIP database, GeoIP defense will score neutrally", err)
		} else {
			defer db.Close()
			geo = &defenses.MaxMindLookup{DB: db}
		}
	}
	handlers := defenses.New(geo)
	defenseRegistry := executor.NewRegistry()
	observationRegistry := executor.NewRegistry()
	handlers.RegisterAll(defenseRegistry, observationRegistry)
	exec := executor.NewExecutor(defenseRegistry, observationRegistry)

	// 3. Request context resolver.
	resolver := resolve.New(hotCache.Regex)

	// 4. CAPTCHA manager, backed by Postgres when DATABASE_URL is set.
	var captchaMgr *captcha.Manager
	signer := captcha.NewSigner([]byte(trustCookieKey))
	var auditEmitter *audit.Emitter

	var db *sql.DB
	if databaseURL != "" {
		var err error
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			logging.Warn("main", "failed to open postgres connection, CAPTCHA/audit persistence disabled", err)
			db = nil
		}
	}
	if db != nil {
		challengeStore := store.NewChallengeStore(db)
		verifier := captcha.NewHTTPVerifier(captchaVerifyURL, nil)
		captchaMgr = captcha.NewManager(challengeStore, verifier, signer, time.Hour)
		auditEmitter = audit.NewEmitter(store.NewPostgresAuditSink(db))
	} else {
		logging.Warn("main", "DATABASE_URL unset: CAPTCHA challenges and audit events are not durably persisted", nil)
	}

	// 5. Sync coordinator: seeds defaults/builtins (if leader), keeps the
	// hot cache current, flushes rate-limit/IP-spam-score accumulators.
	leader := true
	if useLeaderElection {
		leader = isLeaderInstance()
	}
	coordinator := sync.New(configClient, hotCache, seeder, handlers, flusher,
		sync.WithPullInterval(time.Duration(syncIntervalSec)*time.Second),
		sync.WithLeader(leader),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coordinator.Start(ctx)

	// 6. Metrics server (opt-in).
	if *metricsAddrFlag != "" {
		go func() {
			if err := telemetry.Serve(ctx, *metricsAddrFlag); err != nil {
				logging.Warn("main", "metrics server stopped", err)
			}
		}()
	}

	// 7. HTTP inspection/forwarding server.
	apiServer := api.NewServer(hotCache, resolver, exec, captchaMgr, signer, auditEmitter)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(haproxyTimeoutSec) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.Info("main", fmt.Sprintf("form WAF listening on %s (upstream=%s, ssl_upstream=%s, use_tls=%v)", *httpAddr, haproxyUpstream, haproxyUpstreamSSL, upstreamSSL))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", *httpAddr, err)
		}
	}()

	// 8. Graceful shutdown.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logging.Info("main", "shutting down")
	cancel()
	coordinator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	if db != nil {
		_ = db.Close()
	}
	logging.Info("main", "shutdown complete")
}

// isLeaderInstance is a placeholder election hook: WAF_USE_LEADER_ELECTION
// only toggles whether leader status is externally decided at all. A real
// multi-instance deployment wires this to whatever election mechanism the
// orchestrator provides (e.g. a Kubernetes lease); single-instance and
// unset deployments always act as leader.
func isLeaderInstance() bool {
	return getenv("WAF_INSTANCE_ROLE", "leader") == "leader"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
