// Package api serves the viewer REST API: starting and stopping viewers,
// snapshots of the newest frame, live multipart MJPEG re-streams and the
// Prometheus endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/zsiec/mjpegview/internal/media"
	"github.com/zsiec/mjpegview/internal/stream"
)

// StartFunc starts a viewer. The command binds it to its root context so
// viewers outlive the request that created them.
type StartFunc func(spec stream.Spec) (*stream.Viewer, error)

// Config holds the configuration for the API Server.
type Config struct {
	Addr        string
	WebDir      string
	Viewers     *stream.Manager
	StartViewer StartFunc
	Metrics     http.Handler
	Log         *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	config Config
	log    *slog.Logger
}

// NewServer creates a Server. It returns an error if required fields are
// missing.
func NewServer(config Config) (*Server, error) {
	if config.Viewers == nil {
		return nil, errors.New("api: Viewers is required")
	}
	if config.StartViewer == nil {
		return nil, errors.New("api: StartViewer is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{config: config, log: log.With("component", "api")}, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/viewers", s.handleList)
	mux.HandleFunc("POST /api/viewers", s.handleCreate)
	mux.HandleFunc("OPTIONS /api/viewers", s.handleOptions)
	mux.HandleFunc("GET /api/viewers/{key}", s.handleGet)
	mux.HandleFunc("DELETE /api/viewers/{key}", s.handleStop)
	mux.HandleFunc("OPTIONS /api/viewers/{key}", s.handleOptions)
	mux.HandleFunc("GET /api/viewers/{key}/frame.jpg", s.handleFrame)
	mux.HandleFunc("GET /api/viewers/{key}/mjpeg", s.handleMJPEG)
	mux.HandleFunc("GET /api/viewers/{key}/watchers", s.handleWatchers)
	if s.config.Metrics != nil {
		mux.Handle("GET /metrics", s.config.Metrics)
	}
}

// Handler returns the API handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	if s.config.WebDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.config.WebDir)))
	}
	return corsMiddleware(mux)
}

// Start serves the API on config.Addr and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("API server listening", "addr", s.config.Addr)
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
	})
	defer stop()

	err := srv.ListenAndServe()
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	viewers := s.config.Viewers.List()
	resp := make([]stream.ViewerInfo, len(viewers))
	for i, v := range viewers {
		resp[i] = v.Info()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SECURITY: the create endpoint makes the backend dial arbitrary endpoints
// on behalf of the caller. Restrict it to trusted operators when exposed.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec stream.Spec
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.config.StartViewer(spec)
	switch {
	case errors.Is(err, stream.ErrInvalidSpec):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, stream.ErrViewerExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, v.Info())
}

func (s *Server) viewer(w http.ResponseWriter, r *http.Request) (*stream.Viewer, bool) {
	v, ok := s.config.Viewers.Get(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "viewer not found")
	}
	return v, ok
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if v, ok := s.viewer(w, r); ok {
		writeJSON(w, http.StatusOK, v.Info())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.config.Viewers.Stop(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "key": key})
}

func (s *Server) handleWatchers(w http.ResponseWriter, r *http.Request) {
	if v, ok := s.viewer(w, r); ok {
		writeJSON(w, http.StatusOK, v.Relay().WatcherStatsAll())
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	v, ok := s.viewer(w, r)
	if !ok {
		return
	}
	f, ok := v.LatestFrame()
	if !ok {
		writeError(w, http.StatusNotFound, "no frame yet")
		return
	}
	writeFrameHeaders(w.Header(), f)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(f.Data)
}

// handleMJPEG re-streams a viewer's frames as multipart/x-mixed-replace
// until the client goes away or the viewer ends.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	v, ok := s.viewer(w, r)
	if !ok {
		return
	}
	relay := v.Relay()
	watcher := relay.Subscribe()
	defer relay.Unsubscribe(watcher)

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	s.log.Debug("mjpeg watcher connected", "key", v.Key, "watcher", watcher.ID(), "remote", r.RemoteAddr)
	defer s.log.Debug("mjpeg watcher disconnected", "key", v.Key, "watcher", watcher.ID())

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-watcher.Frames():
			if !ok {
				mw.Close()
				return
			}
			if err := writePart(mw, f); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writePart(mw *multipart.Writer, f *media.Frame) error {
	h := make(textproto.MIMEHeader)
	writeFrameHeaders(http.Header(h), f)
	h.Set("Content-Length", strconv.Itoa(len(f.Data)))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}

func writeFrameHeaders(h http.Header, f *media.Frame) {
	h.Set("Content-Type", media.ContentType)
	h.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	h.Set("X-Frame-Timestamp", strconv.FormatInt(f.ReceivedAt.UnixMilli(), 10))
}
