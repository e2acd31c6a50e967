package handlers

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

func enableCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			if id, err := uuid.NewV4(); err == nil {
				requestID = id.String()
			}
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info("request",
			zap.String("requestID", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// Routes mounts the API on a new mux wrapped in CORS and request logging.
func (h *Handler) Routes(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/labels", h.Labels)
	// Served with and without the trailing slash, never redirected.
	mux.HandleFunc("/predict", h.Predict)
	mux.HandleFunc("/predict/", h.Predict)
	mux.HandleFunc("/predict_batch", h.PredictBatch)
	mux.HandleFunc("/predict_batch/", h.PredictBatch)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}

	return logRequests(h.logger, enableCORS(corsOrigin, mux))
}
