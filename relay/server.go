// Package relay is the storage relay: it accepts paid uploads over HTTP,
// content-addresses them and hands them to a Store.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/verification"
)

// AllowedTypes is the MIME allow-list for uploads.
var AllowedTypes = []string{"image/png", "image/jpeg", "image/jpg", "application/pdf"}

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-Id"

// multipart framing allowance on top of the file limit
const formOverhead = 64 << 10

// Config holds the public gateway base URL and the upload size limit.
type Config struct {
	GatewayURL  string
	MaxFileSize int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and upload logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = logger.OrNoop(l)
	}
}

// WithMetrics sets the recorder for accepted and rejected uploads.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = metrics.OrNoop(r)
	}
}

// WithVerifier rejects uploads whose uploadId has no on-chain payment.
func WithVerifier(v verification.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// Server is the upload relay HTTP handler.
type Server struct {
	cfg            Config
	store          Store
	verifier       verification.Verifier
	log            logger.Logger
	metrics        metrics.Recorder
	metricsHandler http.Handler
	router         chi.Router
}

// NewServer creates a relay storing uploads in store. A zero MaxFileSize
// means types.MaxFileSize.
func NewServer(cfg Config, store Store, opts ...Option) *Server {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = types.MaxFileSize
	}
	cfg.GatewayURL = strings.TrimSuffix(cfg.GatewayURL, "/")

	s := &Server{
		cfg:     cfg,
		store:   store,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Post("/upload", s.handleUpload)
	if _, ok := s.store.(Getter); ok {
		r.Get("/ipfs/{cid}", s.handleContent)
	}
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+formOverhead)

	if err := r.ParseMultipartForm(s.cfg.MaxFileSize + formOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			s.reject(w, r, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		s.reject(w, r, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	rawID := r.FormValue("uploadId")
	if rawID == "" {
		s.reject(w, r, http.StatusBadRequest, "Missing uploadId")
		return
	}
	id, err := types.ParseCorrelationID(rawID)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "Invalid uploadId")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxFileSize+1))
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "Failed to read file")
		return
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		s.reject(w, r, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	if len(data) == 0 {
		s.reject(w, r, http.StatusBadRequest, "No file uploaded")
		return
	}

	mtype := mimetype.Detect(data)
	if !allowed(mtype) {
		s.reject(w, r, http.StatusUnsupportedMediaType, "Unsupported file type.")
		return
	}
	contentType := strings.SplitN(mtype.String(), ";", 2)[0]

	if s.verifier != nil {
		if _, err := s.verifier.Verify(ctx, id); err != nil {
			if errors.Is(err, types.ErrorPaymentRequired) {
				s.reject(w, r, http.StatusPaymentRequired, "Payment required")
				return
			}
			s.log.Error("payment verification failed", map[string]any{
				"requestId": requestIDFrom(r),
				"uploadId":  id.Hex(),
				"error":     err,
			})
			s.reject(w, r, http.StatusBadGateway, "Payment verification unavailable")
			return
		}
	}

	c, err := ContentID(data)
	if err != nil {
		s.reject(w, r, http.StatusInternalServerError, "Upload failed")
		return
	}

	name := hdr.Filename
	if name == "" {
		name = c
	}

	start := time.Now()
	if err := s.store.Put(ctx, Object{CID: c, Name: name, ContentType: contentType, Data: data}); err != nil {
		s.log.Error("store put failed", map[string]any{
			"requestId": requestIDFrom(r),
			"cid":       c,
			"error":     err,
		})
		s.reject(w, r, http.StatusInternalServerError, "Upload failed")
		return
	}
	s.metrics.ObserveLatency(metrics.RelayStore, time.Since(start), nil)
	s.metrics.IncCounter(metrics.RelayAccepted, nil)

	s.log.Info("upload stored", map[string]any{
		"requestId": requestIDFrom(r),
		"uploadId":  id.Hex(),
		"cid":       c,
		"size":      len(data),
		"type":      contentType,
	})

	writeJSON(w, http.StatusOK, types.UploadResult{
		CID:  c,
		Name: name,
		Size: int64(len(data)),
		Type: contentType,
		URL:  s.GatewayURL(c),
	})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	obj, err := s.store.(Getter).Get(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "Not found"})
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", obj.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// GatewayURL is the public link for a content id.
func (s *Server) GatewayURL(c string) string {
	return s.cfg.GatewayURL + "/ipfs/" + c
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.metrics.IncCounter(metrics.RelayRejected, nil)
	s.log.Warn("upload rejected", map[string]any{
		"requestId": requestIDFrom(r),
		"status":    status,
		"reason":    msg,
	})
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func allowed(m *mimetype.MIME) bool {
	for _, t := range AllowedTypes {
		if m.Is(t) {
			return true
		}
	}
	return false
}

// ContentID is the CIDv1 (raw codec, sha2-256) of data.
func ContentID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestIDFrom(r *http.Request) string {
	return r.Header.Get(RequestIDHeader)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request", map[string]any{
			"requestId": requestIDFrom(r),
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
		})
	})
}
