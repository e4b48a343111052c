package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/udayam-ai/extraction-gateway/internal/common"
	"github.com/udayam-ai/extraction-gateway/internal/coordinator"
	"github.com/udayam-ai/extraction-gateway/internal/engine"
	"github.com/udayam-ai/extraction-gateway/internal/export"
	"github.com/udayam-ai/extraction-gateway/internal/storage"
)

// Server exposes the extraction gateway's HTTP surface.
type Server struct {
	coord     *coordinator.Coordinator
	exporter  *export.Service
	engine    engine.TableExtractor
	blobs     storage.BlobStore
	db        *sql.DB
	wsManager *WebSocketManager
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	maxUploadBytes int64
	signedURLTTL   time.Duration
	dbHealthWait   time.Duration
}

type Options struct {
	MaxUploadBytes int64
	SignedURLTTL   time.Duration
	DBHealthWait   time.Duration
}

func NewServer(coord *coordinator.Coordinator, exporter *export.Service, eng engine.TableExtractor, blobs storage.BlobStore, db *sql.DB, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 * 1024 * 1024
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.DBHealthWait <= 0 {
		opts.DBHealthWait = 3 * time.Second
	}
	wsManager := NewWebSocketManager(logger)
	wsManager.Start()

	s := &Server{
		coord:     coord,
		exporter:  exporter,
		engine:    eng,
		blobs:     blobs,
		db:        db,
		wsManager: wsManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:         logger,
		maxUploadBytes: opts.MaxUploadBytes,
		signedURLTTL:   opts.SignedURLTTL,
		dbHealthWait:   opts.DBHealthWait,
	}
	coord.SetNotifier(wsManager.BroadcastJobUpdate)
	return s
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/extraction/extract", s.handleExtract)
	mux.HandleFunc("GET /api/v1/extraction/status/{jobId}", s.handleStatus)
	mux.HandleFunc("PUT /api/v1/extraction/{jobId}", s.handleUpdate)
	mux.HandleFunc("GET /api/v1/extraction/job/{jobId}", s.handleJob)
	mux.HandleFunc("GET /api/v1/extraction/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/v1/extraction/job/{jobId}/export", s.handleExport)
	mux.HandleFunc("GET /api/v1/extraction/job/{jobId}/file", s.handleFileURL)
	mux.HandleFunc("GET /api/v1/extraction/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/extraction/usage", s.handleUsage)
	mux.HandleFunc("GET /api/v1/extraction/health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.withCORS(s.withRequestLog(mux))
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

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

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade hijacks the connection; wrapping the
		// ResponseWriter would break it.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rid := uuid.New().String()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := common.WithRequestID(r.Context(), rid)
		if uid := r.Header.Get("X-User-ID"); uid != "" {
			ctx = common.WithUserID(ctx, uid)
		}
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.logger.Info("http.request",
			"req_id", rid,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, common.HTTPStatus(err), map[string]any{"detail": err.Error()})
}
