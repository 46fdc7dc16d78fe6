// Copyright 2025 CoverForge
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

package gateway

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"coverforge/platform/gateway/audit"
	"coverforge/platform/gateway/ratelimit"
	"coverforge/platform/shared/logger"
)

// Run is the exported entry point for the gateway service. It wires the
// configured rate-limit store, audit sink, and generation client, starts
// the HTTP server, and blocks until SIGINT/SIGTERM triggers a graceful
// drain.
func Run() {
	svcLog := logger.New("gateway")

	cfg, err := LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	store, storeCloser := buildStore(cfg, svcLog)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open audit database: %v", err)
		}
		if err := db.Ping(); err != nil {
			// The audit logger falls back to its JSONL file, so a dead
			// database delays events but never blocks startup.
			svcLog.Warn("", "", "Audit database unreachable at startup, events will spill to fallback file",
				map[string]interface{}{"error": err.Error()})
		}
	}

	auditLog, err := audit.New(audit.Options{
		DB:           db,
		FallbackPath: cfg.AuditFallbackPath,
		Log:          svcLog,
	})
	if err != nil {
		log.Fatalf("failed to start audit logger: %v", err)
	}

	gw := New(store, auditLog, svcLog, cfg.RedisPolicy)

	var gen Generator = EchoGenerator{}
	if cfg.GeneratorURL != "" {
		gen = NewHTTPGenerator(cfg.GeneratorURL)
	} else {
		svcLog.Warn("", "", "GENERATOR_URL not set, using the echo generator", nil)
	}

	srv := NewServer(gw, gen, cfg, svcLog)
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		svcLog.Info("", "", "Gateway listening", map[string]interface{}{"port": cfg.Port})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	svcLog.Info("", "", "Shutdown signal received, draining", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		svcLog.Error("", "", "HTTP shutdown did not complete cleanly", map[string]interface{}{"error": err.Error()})
	}
	if err := auditLog.Shutdown(ctx); err != nil {
		svcLog.Error("", "", "Audit drain did not complete cleanly", map[string]interface{}{"error": err.Error()})
	}
	if storeCloser != nil {
		storeCloser()
	}
	if db != nil {
		db.Close()
	}
}

// buildStore selects the shared Redis counter store when configured, with
// the in-memory sliding-window limiter as the default.
func buildStore(cfg Config, svcLog *logger.Logger) (ratelimit.Store, func()) {
	if cfg.RedisURL != "" {
		policy := ratelimit.PolicyFailOpen
		if cfg.RedisPolicy == "fail_closed" {
			policy = ratelimit.PolicyFailClosed
		}
		rs, err := ratelimit.NewRedisStore(cfg.RedisURL, cfg.RateLimit, ratelimit.WithPolicy(policy))
		if err == nil {
			svcLog.Info("", "", "Using shared Redis rate-limit store", map[string]interface{}{"policy": cfg.RedisPolicy})
			return rs, func() { rs.Close() }
		}
		svcLog.Error("", "", "Redis rate-limit store unavailable, falling back to in-memory limiting",
			map[string]interface{}{"error": err.Error()})
	}

	lim, err := ratelimit.NewLimiter(cfg.RateLimit)
	if err != nil {
		log.Fatalf("rate limiter configuration error: %v", err)
	}
	return lim, nil
}
