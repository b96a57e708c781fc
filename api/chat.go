// Package api is the function-style entry point of the relay. Serverless
// platforms that invoke a plain net/http handler per request call Handler;
// the relay is built on first use and reused for the life of the instance.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/supportrelay/pkg/llm"
	"github.com/papercomputeco/supportrelay/pkg/logger"
	"github.com/papercomputeco/supportrelay/server"
)

var handler = newHandler(build)

// Handler serves one request.
func Handler(w http.ResponseWriter, r *http.Request) {
	handler(w, r)
}

// build reads configuration from RELAY_CONFIG and the environment.
func build() (http.HandlerFunc, error) {
	log := logger.NewLogger(os.Getenv("RELAY_DEBUG") != "", logger.FormatJSON)

	cfg, err := server.LoadConfig(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		log.Error("failed to load config", zap.Error(err))
		return nil, err
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("failed to create relay", zap.Error(err))
		return nil, err
	}
	return srv.Handler(), nil
}

// newHandler defers construction to the first request. A failed or
// panicking build is not retried; every request then gets a 500.
func newHandler(build func() (http.HandlerFunc, error)) http.HandlerFunc {
	var (
		once  sync.Once
		inner http.HandlerFunc
		err   error
	)
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			defer func() {
				if r := recover(); r != nil {
					inner, err = nil, fmt.Errorf("relay setup panicked: %v", r)
				}
			}()
			inner, err = build()
		})
		if err != nil || inner == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(llm.ErrorResponse{
				Error:   "Failed to process the request",
				Message: "relay is not configured",
			})
			return
		}
		inner(w, r)
	}
}
