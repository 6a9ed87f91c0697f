package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/wallet-valuation/internal/types"
)

// Helper functions for request parsing and responses

// errorBody is the JSON shape of every error response
type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

// errorResponse returns a formatted error response
func errorResponse(w http.ResponseWriter, status int, msg string) {
	logrus.Debug(msg)
	writeJSON(w, status, errorBody{Status: "error", Error: msg})
}

// chainParam parses the chain query parameter, writing a 400 when invalid
func (s *Server) chainParam(w http.ResponseWriter, r *http.Request) (types.SupportedChain, bool) {
	chain, err := types.ParseChain(r.URL.Query().Get("chain"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if _, enabled := s.app.Chains.Get(chain); !enabled {
		errorResponse(w, http.StatusBadRequest, "chain "+string(chain)+" is not enabled")
		return "", false
	}
	return chain, true
}

// addressParam reads a hex address parameter, writing a 400 when invalid
func addressParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := r.URL.Query().Get(name)
	if !common.IsHexAddress(raw) {
		errorResponse(w, http.StatusBadRequest, "invalid "+name+" address")
		return "", false
	}
	return common.HexToAddress(raw).Hex(), true
}

// limited wraps h with the method check, the rate limiter and request metrics
func (s *Server) limited(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			s.app.Metrics.ObserveRequest(endpoint, http.StatusText(rec.status), started)
		}()

		if r.Method != http.MethodGet {
			errorResponse(rec, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.rateLimit != nil && !s.rateLimit.Allow() {
			errorResponse(rec, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h(rec, r)
	}
}

// statusRecorder remembers the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
