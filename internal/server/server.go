// Package server is the HTTP front end: trace upload, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"pipeview/internal/common"
	"pipeview/internal/config"
	"pipeview/internal/decoder"
	"pipeview/internal/metrics"
	"pipeview/internal/pipe"
	"pipeview/internal/source"
	"pipeview/internal/window"
)

// RequestIDHeader carries the per-request id in both directions.
const RequestIDHeader = "X-Request-Id"

// multipart parts above this size spill to disk.
const maxMemory = 32 << 20

type ctxKey struct{}

// RequestID returns the id attached to ctx by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Server serves the upload API.
type Server struct {
	cfg     config.Config
	log     common.Logger
	metrics *metrics.Collector
	mux     *http.ServeMux
}

// New builds a server. A nil collector gets a fresh one.
func New(cfg config.Config, log common.Logger, m *metrics.Collector) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		log:     common.OrNoOp(log),
		metrics: m,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", m.Handler())
	return s
}

// Handler returns the routed handler wrapped with request-id tagging and
// access logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		s.mux.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.log.Logf(common.SeverityInfo, "req %s: %s %s %d %s", id, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
	})
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Logf(common.SeverityInfo, "server: listening on %s", s.cfg.Server.Listen)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := RequestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if _, ok := r.MultipartForm.Value["file"]; ok {
			writeError(w, http.StatusBadRequest, "No selected file")
			return
		}
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}
	s.metrics.ObserveUpload(header.Size)

	win, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tr, err := source.FromReader(header.Filename, file)
	if err != nil {
		s.fail(w, id, err)
		return
	}
	defer tr.Close()

	start := time.Now()
	res, err := decoder.Decode(tr, s.cfg.DecoderOptions(win, s.log))
	if err != nil {
		s.fail(w, id, err)
		return
	}
	s.metrics.Observe(res, time.Since(start))
	s.log.Logf(common.SeverityDebug, "req %s: %s %s, %d instructions, %d diagnostics",
		id, header.Filename, res.CPUType, res.Count, len(res.Diagnostics))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) fail(w http.ResponseWriter, id string, err error) {
	s.metrics.ObserveFailure()
	s.log.Logf(common.SeverityError, "req %s: %v", id, err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// parseWindow reads start_tick and end_tick from the query or form.
func parseWindow(r *http.Request) (window.Window, error) {
	w := window.All
	for _, f := range []struct {
		key string
		dst *pipe.Tick
	}{
		{"start_tick", &w.Start},
		{"end_tick", &w.End},
	} {
		v := r.FormValue(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return w, common.NewErrorMsg(pipe.ErrSevError, pipe.ErrBadUpload,
				fmt.Sprintf("%s must be an integer, got %q", f.key, v))
		}
		*f.dst = pipe.Tick(n)
	}
	return w, w.Validate()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
