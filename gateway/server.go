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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"coverforge/platform/gateway/audit"
	"coverforge/platform/shared/logger"
)

// magicPDF is the leading file signature required for uploaded documents.
var magicPDF = []byte("%PDF")

// Server is the HTTP surface for the gateway.
type Server struct {
	gw        *Gateway
	generator Generator
	cfg       Config
	router    *mux.Router
	cors      *cors.Cors
	log       *logger.Logger
}

// NewServer wires the routes and middleware for a gateway instance.
func NewServer(gw *Gateway, generator Generator, cfg Config, log *logger.Logger) *Server {
	s := &Server{
		gw:        gw,
		generator: generator,
		cfg:       cfg,
		router:    mux.NewRouter(),
		log:       log,
	}

	s.cors = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/api/v1/generate", s.handleGenerate).Methods("POST")
	s.router.HandleFunc("/api/v1/quota/{client}", s.handleQuota).Methods("GET")
	s.router.HandleFunc("/api/v1/admin/reset/{client}", s.handleAdminReset).Methods("POST")
	s.router.HandleFunc("/api/v1/profile/upload", s.handleUpload).Methods("POST")

	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "coverforge-gateway",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		promRequestDuration.WithLabelValues("generate").Observe(float64(time.Since(start).Milliseconds()))
	}()

	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		promRequestsTotal.WithLabelValues("generate", "bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	req.RequestID = uuid.NewString()

	decision := s.gw.Admit(r.Context(), req)
	if !decision.Allowed {
		promRequestsTotal.WithLabelValues("generate", "denied").Inc()
		status := http.StatusBadRequest
		switch decision.Code {
		case CodeRateLimited:
			status = http.StatusTooManyRequests
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		case CodeBackendUnavailable:
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"request_id":  req.RequestID,
			"code":        decision.Code,
			"reason":      decision.Reason,
			"retry_after": decision.RetryAfter,
		})
		return
	}

	prompt := s.gw.PreparePrompt(req)
	maxWords, _ := strconv.Atoi(req.MaxWords)

	letter, err := s.generator.Generate(r.Context(), prompt, maxWords)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		promRequestsTotal.WithLabelValues("generate", "provider_error").Inc()
		s.gw.RecordGeneration(req, false, elapsed, err.Error())
		s.log.ErrorWithCode(req.ClientID, req.RequestID, "Generation call failed", http.StatusBadGateway, err, nil)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"request_id": req.RequestID,
			"error":      "generation service unavailable",
		})
		return
	}

	s.gw.ScreenResponse(req, letter)
	s.gw.RecordGeneration(req, true, elapsed, "cover letter generated")
	promRequestsTotal.WithLabelValues("generate", "ok").Inc()
	s.log.InfoWithDuration(req.ClientID, req.RequestID, "Request completed", elapsed, nil)

	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": req.RequestID,
		"letter":     letter,
	})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	client := mux.Vars(r)["client"]

	tiers := make([]string, 0, len(s.cfg.RateLimit.Tiers))
	for name := range s.cfg.RateLimit.Tiers {
		tiers = append(tiers, name)
	}

	remaining, err := s.gw.Quota(r.Context(), client, tiers)
	if err != nil {
		promRequestsTotal.WithLabelValues("quota", "error").Inc()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "quota lookup unavailable"})
		return
	}
	promRequestsTotal.WithLabelValues("quota", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client":    client,
		"remaining": remaining,
	})
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	client := mux.Vars(r)["client"]
	actor := r.Header.Get("X-Admin-User")
	if actor == "" {
		actor = "unknown"
	}

	if err := s.gw.ResetQuota(r.Context(), client, actor); err != nil {
		promRequestsTotal.WithLabelValues("admin_reset", "error").Inc()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reset unavailable"})
		return
	}
	promRequestsTotal.WithLabelValues("admin_reset", "ok").Inc()
	s.log.Info("", "", "Rate-limit state reset", map[string]interface{}{"client": client, "actor": actor})
	writeJSON(w, http.StatusOK, map[string]string{"client": client, "status": "reset"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+4096)

	file, header, err := r.FormFile("document")
	if err != nil {
		promRequestsTotal.WithLabelValues("upload", "bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing document upload"})
		return
	}
	defer file.Close()

	// The stored name is prefixed with a fresh UUID so concurrent uploads
	// of the same client-supplied filename never collide.
	ext := strings.ToLower(filepath.Ext(header.Filename))
	base := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	storedName := uuid.NewString() + "_" + s.gw.Validator().StorageKey(base) + ext
	storedPath := filepath.Join(s.cfg.UploadDir, storedName)

	dst, err := os.Create(storedPath)
	if err != nil {
		promRequestsTotal.WithLabelValues("upload", "error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(storedPath)
		promRequestsTotal.WithLabelValues("upload", "error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
		return
	}
	dst.Close()

	out := s.gw.Validator().CheckUpload(storedPath, s.cfg.MaxUploadBytes, magicPDF, "document")
	if !out.Valid {
		os.Remove(storedPath)
		promRequestsTotal.WithLabelValues("upload", "rejected").Inc()
		promDenialsTotal.WithLabelValues("upload").Inc()
		s.gw.Audit(audit.Event{
			Kind:    audit.KindValidationFailure,
			Message: out.Message,
			Details: map[string]interface{}{
				"field":    "document",
				"code":     string(out.Code),
				"filename": header.Filename,
			},
		})
		s.log.Warn("", "", "Upload rejected", map[string]interface{}{
			"filename": header.Filename,
			"code":     string(out.Code),
		})
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code":  string(out.Code),
			"error": out.Message,
		})
		return
	}

	promRequestsTotal.WithLabelValues("upload", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"stored_as": storedName})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode response: %v\n", err)
	}
}
