package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/store"
)

// Pre-marshaled fallback response for when encoding fails
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

func errorResponse(message string) models.APIResponse {
	return models.Error(message)
}

// writeJSONResponse writes response as JSON with the given status code. Encoding happens
// before any header is written so a failure can still become a 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeStoreError maps store sentinels to status codes.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrStoreUnavailable):
		slog.Error("Server."+op+": store unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse("Store unavailable"))
	case errors.Is(err, store.ErrConstraintViolation):
		slog.Warn("Server."+op+": constraint violation", "error", err)
		writeJSONResponse(w, http.StatusConflict, errorResponse("Constraint violation"))
	default:
		slog.Error("Server."+op+": store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Internal server error"))
	}
}

// requestLogger logs each request and counts it by route pattern.
func requestLogger(c *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			c.ObserveHTTP(r.Method, route, fmt.Sprint(status))
			slog.Debug("HTTP request",
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
		})
	}
}
