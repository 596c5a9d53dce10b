package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hallqvist/lyssna/internal/health"
	"github.com/hallqvist/lyssna/internal/observe"
	"github.com/hallqvist/lyssna/internal/pipeline"
	"github.com/hallqvist/lyssna/internal/session"
	"github.com/hallqvist/lyssna/pkg/types"
)

// GatewayClient is the full gateway surface the HTTP layer proxies.
type GatewayClient interface {
	Transcriber
	Warmup(ctx context.Context, profile string) (*types.WarmupResult, error)
	Health(ctx context.Context) error
}

// WorkerClient is the full worker surface the HTTP layer depends on.
type WorkerClient interface {
	JobSubmitter
	Health(ctx context.Context) error
}

// Server exposes the ingest orchestrator over HTTP and WebSocket.
type Server struct {
	svc      *Service
	sessions *session.Store
	gateway  GatewayClient
	worker   WorkerClient
	filesDir string
	metrics  *observe.Metrics
}

// NewServer builds the HTTP layer. filesDir is the directory for plain-text
// transcription notes.
func NewServer(svc *Service, sessions *session.Store, gateway GatewayClient, worker WorkerClient, filesDir string) *Server {
	return &Server{
		svc:      svc,
		sessions: sessions,
		gateway:  gateway,
		worker:   worker,
		filesDir: filesDir,
		metrics:  observe.DefaultMetrics(),
	}
}

// Router assembles the gin engine with all orchestrator routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observe.Middleware(s.metrics))

	api := r.Group("/api")
	api.POST("/ingest", s.handleIngest)
	api.POST("/interpret/:session_id", s.handleInterpret)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:session_id", s.handleGetSession)
	api.GET("/sessions/:session_id/audio", s.handleSessionAudio)
	api.GET("/sessions/:session_id/interpretations", s.handleInterpretations)
	api.GET("/contexts", s.handleContexts)
	api.POST("/transcribe", s.handleTranscribeProxy)
	api.POST("/warmup", s.handleWarmupProxy)
	api.GET("/files", s.handleListFiles)
	api.POST("/files", s.handleSaveFile)
	api.GET("/files/:filename", s.handleGetFile)
	api.DELETE("/files/:filename", s.handleDeleteFile)

	r.GET("/ws/transcribe", s.handleRealtime)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	health.New(
		health.Checker{Name: "gateway", Check: s.gateway.Health},
		health.Checker{Name: "worker", Check: s.worker.Health},
	).Register(r)

	return r
}

// apiError writes the uniform {"detail": ...} error body.
func apiError(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

var errEmptyUpload = errors.New("empty upload")

// saveUpload spools a multipart file to a temp path. Returns the path and a
// cleanup func.
func saveUpload(fh *multipart.FileHeader) (string, func(), error) {
	src, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("ingest: open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "lyssna-ingest-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", nil, fmt.Errorf("ingest: spool upload: %w", err)
	}
	n, err := io.Copy(dst, src)
	cerr := dst.Close()
	if err != nil || cerr != nil {
		os.Remove(dst.Name())
		return "", nil, fmt.Errorf("ingest: spool upload: %w", errors.Join(err, cerr))
	}
	if n == 0 {
		os.Remove(dst.Name())
		return "", nil, errEmptyUpload
	}
	return dst.Name(), func() { os.Remove(dst.Name()) }, nil
}

func (s *Server) handleIngest(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		apiError(c, http.StatusBadRequest, "Ingen fil bifogad")
		return
	}
	path, cleanup, err := saveUpload(fh)
	if err != nil {
		if errors.Is(err, errEmptyUpload) {
			apiError(c, http.StatusBadRequest, "Tom audiofil")
			return
		}
		slog.Error("failed to spool upload", "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte ta emot filen")
		return
	}
	defer cleanup()

	res, err := s.svc.IngestFile(c.Request.Context(), path,
		c.DefaultQuery("profile", DefaultProfile),
		c.Query("context"),
		c.DefaultQuery("source", "api"))
	if err != nil {
		if errors.Is(err, ErrUnknownContext) {
			apiError(c, http.StatusBadRequest, "Okänd kontextprofil: "+c.Query("context"))
			return
		}
		slog.Error("ingest failed", "file", fh.Filename, "error", err)
		apiError(c, http.StatusInternalServerError, "Ingest misslyckades")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleInterpret(c *gin.Context) {
	sessionID := c.Param("session_id")
	contextProfile := c.Query("context")
	if contextProfile == "" {
		apiError(c, http.StatusBadRequest, "context krävs")
		return
	}

	res, err := s.svc.Reinterpret(c.Request.Context(), sessionID, contextProfile)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, ErrUnknownContext):
		apiError(c, http.StatusBadRequest, "Okänd kontextprofil: "+contextProfile)
	case errors.Is(err, session.ErrNotFound):
		apiError(c, http.StatusNotFound, "Session hittades inte")
	case errors.Is(err, ErrNoSegments):
		apiError(c, http.StatusBadRequest, "Sessionen har inga segment")
	default:
		slog.Error("reinterpret failed", "session_id", sessionID, "error", err)
		apiError(c, http.StatusBadGateway, "Kunde inte skapa tolkningsjobb")
	}
}

func (s *Server) handleListSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		apiError(c, http.StatusBadRequest, "limit måste vara 1-200")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		apiError(c, http.StatusBadRequest, "offset måste vara >= 0")
		return
	}

	entries, err := s.sessions.List(limit, offset)
	if err != nil {
		slog.Error("session listing failed", "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte lista sessioner")
		return
	}
	if entries == nil {
		entries = []session.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": entries})
}

func (s *Server) handleGetSession(c *gin.Context) {
	full, err := s.sessions.Get(c.Param("session_id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			apiError(c, http.StatusNotFound, "Session not found")
			return
		}
		slog.Error("session lookup failed", "session_id", c.Param("session_id"), "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte läsa sessionen")
		return
	}
	c.JSON(http.StatusOK, full)
}

func (s *Server) handleSessionAudio(c *gin.Context) {
	sessionID := c.Param("session_id")
	path, err := s.sessions.AudioPath(sessionID)
	if err != nil {
		apiError(c, http.StatusNotFound, "Audio not found")
		return
	}
	c.Header("Content-Type", "audio/wav")
	c.FileAttachment(path, sessionID+".wav")
}

func (s *Server) handleInterpretations(c *gin.Context) {
	sessionID := c.Param("session_id")
	c.JSON(http.StatusOK, gin.H{
		"session_id":      sessionID,
		"interpretations": s.svc.Interpretations(sessionID),
	})
}

func (s *Server) handleContexts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"contexts": pipeline.ContextProfiles()})
}

// handleTranscribeProxy forwards a one-shot transcription to the gateway
// without creating a session.
func (s *Server) handleTranscribeProxy(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		apiError(c, http.StatusBadRequest, "Ingen fil bifogad")
		return
	}
	path, cleanup, err := saveUpload(fh)
	if err != nil {
		if errors.Is(err, errEmptyUpload) {
			apiError(c, http.StatusBadRequest, "Tom fil")
			return
		}
		slog.Error("failed to spool upload", "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte ta emot filen")
		return
	}
	defer cleanup()

	profile := c.DefaultQuery("profile", DefaultProfile)
	res, err := s.gateway.Transcribe(c.Request.Context(), path, profile, "")
	if err != nil {
		apiError(c, http.StatusBadGateway, "Whisper API-fel: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"text":           res.Text,
		"filename":       fh.Filename,
		"profile":        profile,
		"segments":       res.Segments,
		"backend":        res.Backend,
		"inference_time": res.InferenceTime,
	})
}

func (s *Server) handleWarmupProxy(c *gin.Context) {
	profile := c.DefaultQuery("profile", DefaultProfile)
	res, err := s.gateway.Warmup(c.Request.Context(), profile)
	if err != nil {
		apiError(c, http.StatusBadGateway, "Warmup-fel: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "lyssna-server"})
}

// ListenAndServe builds the http.Server for the orchestrator.
func (s *Server) ListenAndServe(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
