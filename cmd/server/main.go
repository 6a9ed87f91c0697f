// Package main is the entry point of the wallet valuation HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/wallet-valuation/internal/app"
	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/telemetry"
)

const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server serves wallet valuations over HTTP
type Server struct {
	app *app.App

	// HTTP server instance
	server *http.Server

	rateLimit *rate.Limiter
}

// main is the entry point for the application
func main() {
	cfg := config.Load()
	telemetry.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	shutdownTracer := telemetry.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	a, err := app.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}

	defer a.Close()

	NewServer(a).Start()
}

// NewServer creates a server over a wired stack.
func NewServer(a *app.App) *Server {
	s := &Server{app: a}
	if a.Config.RateLimitRPS > 0 {
		s.rateLimit = rate.NewLimiter(rate.Limit(a.Config.RateLimitRPS), a.Config.RateLimitBurst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", a.Config.RateLimitRPS, a.Config.RateLimitBurst)
	}

	logrus.WithFields(logrus.Fields{
		"port":    a.Config.Port,
		"chains":  len(a.Chains.Enabled()),
		"timeout": a.Config.RequestTimeout,
		"signing": a.Signer != nil,
	}).Info("Server initialized")
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/balances", s.limited("balances", s.handleBalances))
	mux.HandleFunc("/v1/projects", s.limited("projects", s.handleProjects))
	mux.HandleFunc("/v1/price", s.limited("price", s.handlePrice))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/circuit", s.handleCircuitStatus)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.app.Config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.app.Config.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.app.Config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chains := s.app.Chains.Enabled()
	projects := make(map[string][]string, len(chains))
	for _, c := range chains {
		projects[string(c)] = s.app.Dispatcher.Projects(c)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "operational",
		"uptime":        time.Since(startTime).String(),
		"version":       version,
		"chains":        chains,
		"projects":      projects,
		"circuit_state": s.app.Oracle.State().String(),
		"cached_prices": s.app.Resolver.Cache().Len(),
		"export":        s.app.Exporter.Status(),
		"configuration": map[string]interface{}{
			"request_timeout": s.app.Config.RequestTimeout.String(),
			"rpc_max_passes":  s.app.Config.RPCMaxPasses,
			"fanout_limit":    s.app.Config.FanoutLimit,
			"signing":         s.app.Signer != nil,
		},
	})
}

// handleCircuitStatus shows the price oracle circuit and resets it on POST
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{}

	if r.Method == http.MethodPost && r.URL.Query().Get("action") == "reset" {
		s.app.Breaker.Reset()
		response["message"] = "Circuit breaker reset"
	}
	response["state"] = s.app.Breaker.GetState().String()

	writeJSON(w, http.StatusOK, response)
}

// handleProjects lists the projects of a chain
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	chain, ok := s.chainParam(w, r)
	if !ok {
		return
	}
	projects := s.app.Dispatcher.Projects(chain)
	if projects == nil {
		projects = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":    chain,
		"projects": projects,
	})
}

// handleBalances values a wallet in one or every project of a chain
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	chain, ok := s.chainParam(w, r)
	if !ok {
		return
	}
	wallet, ok := addressParam(w, r, "wallet")
	if !ok {
		return
	}

	project := strings.ToLower(r.URL.Query().Get("project"))
	if project != "" && project != app.ProjectAll && !catalog.IsProject(chain, project) {
		errorResponse(w, http.StatusNotFound, "unknown project "+project+" on "+string(chain))
		return
	}

	report := s.app.Balances(r.Context(), chain, wallet, project)
	if s.app.Signer == nil {
		writeJSON(w, http.StatusOK, report)
		return
	}

	signed, err := s.app.Signer.Sign(report)
	if err != nil {
		logrus.Warnf("Failed to sign report: %v", err)
		writeJSON(w, http.StatusOK, report)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// handlePrice prices one token
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	chain, ok := s.chainParam(w, r)
	if !ok {
		return
	}
	address, ok := addressParam(w, r, "address")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.app.Config.RequestTimeout)
	defer cancel()

	decimals := model.DefaultDecimals
	if t, found := catalog.Lookup(chain, address); found {
		decimals = t.Decimals
	}
	p := s.app.Resolver.GetTokenPrice(ctx, chain, address, decimals)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":   chain,
		"address": model.NormalizeAddress(address),
		"price":   p,
	})
}
