package server

import (
	"context"
	"embed"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

//go:embed web/index.html
var webAssets embed.FS

type API struct {
	history  *HistoryStore
	hub      *BroadcastHub
	ingestor *Ingestor

	metrics           *Metrics
	readiness         func(ctx context.Context) error
	ingestLimiter     *requestLimiter
	trustProxyHeaders bool
	socket            socketTimeouts
}

type APIOption func(*API)

func WithMetricsEndpoint(metrics *Metrics) APIOption {
	return func(api *API) {
		api.metrics = metrics
	}
}

// WithReadinessCheck makes /ready report the result of check, typically the
// archive sinks' ping.
func WithReadinessCheck(check func(ctx context.Context) error) APIOption {
	return func(api *API) {
		api.readiness = check
	}
}

func WithIngestRateLimit(limit int, window time.Duration) APIOption {
	return func(api *API) {
		if limit > 0 {
			api.ingestLimiter = newRequestLimiter(limit, window)
		}
	}
}

func WithTrustedProxyHeaders(trust bool) APIOption {
	return func(api *API) {
		api.trustProxyHeaders = trust
	}
}

// WithSocketTimeouts sets how long /ws waits for a pong before dropping the peer
// and how long a single write may block. Zero keeps the default.
func WithSocketTimeouts(pongWait time.Duration, writeWait time.Duration) APIOption {
	return func(api *API) {
		api.socket = newSocketTimeouts(pongWait, writeWait)
	}
}

func NewAPI(history *HistoryStore, hub *BroadcastHub, ingestor *Ingestor, options ...APIOption) *API {
	api := &API{
		history:  history,
		hub:      hub,
		ingestor: ingestor,
		socket:   newSocketTimeouts(0, 0),
	}
	for _, option := range options {
		option(api)
	}
	return api
}

func (api *API) Handler() http.Handler {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(func(response http.ResponseWriter, _ *http.Request) {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.HandleFunc("/", api.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/health", api.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", api.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/ws", api.handleSocket).Methods(http.MethodGet)
	router.HandleFunc("/api/glucose_data", api.handleGlucoseData).Methods(http.MethodGet)
	router.HandleFunc("/api/stream", api.handleStream).Methods(http.MethodGet)
	router.HandleFunc("/api/ingest", api.handleIngest).Methods(http.MethodPost)
	if api.metrics != nil {
		router.Handle("/metrics", api.metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}

func (api *API) handleIndex(response http.ResponseWriter, _ *http.Request) {
	page, err := webAssets.ReadFile("web/index.html")
	if err != nil {
		writeError(response, http.StatusInternalServerError, "viewer unavailable")
		return
	}

	response.Header().Set("Content-Type", "text/html; charset=utf-8")
	response.WriteHeader(http.StatusOK)
	_, _ = response.Write(page)
}

func (api *API) handleHealth(response http.ResponseWriter, _ *http.Request) {
	writeJSON(response, http.StatusOK, map[string]any{
		"status":      "ok",
		"records":     api.history.Len(),
		"subscribers": api.hub.Count(),
	})
}

func (api *API) handleReady(response http.ResponseWriter, request *http.Request) {
	if api.readiness != nil {
		if err := api.readiness(request.Context()); err != nil {
			writeError(response, http.StatusServiceUnavailable, "not ready")
			return
		}
	}

	writeJSON(response, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func (api *API) handleGlucoseData(response http.ResponseWriter, _ *http.Request) {
	writeJSON(response, http.StatusOK, api.history.Snapshot())
}

func (api *API) handleIngest(response http.ResponseWriter, request *http.Request) {
	request.Body = http.MaxBytesReader(response, request.Body, 1<<20)
	payload, err := io.ReadAll(request.Body)
	if err != nil {
		writeError(response, http.StatusBadRequest, "invalid request body")
		return
	}

	sample, decodeErr := DecodeSample(payload)

	if api.ingestLimiter != nil {
		key := ingestKey(request, sample, api.trustProxyHeaders)
		allowed, retryAfter := api.ingestLimiter.Allow(key, time.Now())
		if !allowed {
			response.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(response, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	if decodeErr != nil {
		api.ingestor.reject(decodeErr)
		writeError(response, http.StatusBadRequest, decodeErr.Error())
		return
	}

	reading := api.ingestor.Accept(sample)
	writeJSON(response, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"reading": reading,
		"records": api.history.Len(),
	})
}

func writeJSON(response http.ResponseWriter, statusCode int, payload any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(statusCode)
	_ = json.NewEncoder(response).Encode(payload)
}

func writeError(response http.ResponseWriter, statusCode int, message string) {
	writeJSON(response, statusCode, map[string]string{"error": message})
}
