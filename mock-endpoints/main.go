// Command mock-endpoints runs webhook receivers for exercising the event bus
// by hand: one that accepts, one that fails, one that is slow and one that
// fails its first few calls.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/tenant-event-bus/internal/webhook"
)

var requestCount atomic.Int64

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	// SECRET enables signature checks on every webhook.
	secret := os.Getenv("SECRET")
	flakyFailures := int64(2)
	if n, err := strconv.Atoi(os.Getenv("FLAKY_FAILURES")); err == nil && n >= 0 {
		flakyFailures = int64(n)
	}

	var flakyCalls atomic.Int64

	r := chi.NewRouter()
	r.Route("/webhook", func(r chi.Router) {
		r.Use(receive(logger, secret))

		// Successful endpoint, always returns 200
		r.Post("/success", func(w http.ResponseWriter, r *http.Request) {
			respond(w, http.StatusOK, map[string]string{"status": "received"})
		})

		// Slow endpoint, delays 3 seconds before responding
		r.Post("/slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(3 * time.Second)
			respond(w, http.StatusOK, map[string]string{"status": "received (slow)"})
		})

		// Failing endpoint, always returns 500
		r.Post("/fail", func(w http.ResponseWriter, r *http.Request) {
			respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		})

		// Flaky endpoint, fails the first FLAKY_FAILURES calls then succeeds
		r.Post("/flaky", func(w http.ResponseWriter, r *http.Request) {
			if flakyCalls.Add(1) <= flakyFailures {
				respond(w, http.StatusServiceUnavailable, map[string]string{"error": "try again"})
				return
			}
			respond(w, http.StatusOK, map[string]string{"status": "received (flaky)"})
		})
	})

	// Stats endpoint, shows request count
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]int64{"total_requests": requestCount.Load()})
	})

	logger.Info("mock endpoint server starting",
		"port", port,
		"routes", []string{"POST /webhook/success", "POST /webhook/slow", "POST /webhook/fail", "POST /webhook/flaky", "GET /stats"},
	)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// receive logs every webhook and rejects bad signatures when secret is set.
func receive(logger *slog.Logger, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := requestCount.Add(1)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				respond(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
				return
			}

			sig := r.Header.Get(webhook.HeaderSignature)
			logger.Info("webhook received",
				"n", count,
				"path", r.URL.Path,
				"event_type", r.Header.Get(webhook.HeaderEventType),
				"event_id", r.Header.Get(webhook.HeaderEventID),
				"tenant_id", r.Header.Get(webhook.HeaderTenant),
				"delivery_id", r.Header.Get(webhook.HeaderDelivery),
				"signature", truncate(sig, 16),
				"bytes", len(body),
			)

			if secret != "" && !webhook.VerifySignature(body, secret, sig) {
				respond(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
