package gateway

import (
	"context"
	"encoding/base64"
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
)

// Version is the gateway API version reported by / and /health.
const Version = "2.0.0"

// Server exposes the gateway service over HTTP and WebSocket.
type Server struct {
	svc     *Service
	metrics *observe.Metrics
}

// NewServer builds the HTTP layer on top of a Service.
func NewServer(svc *Service) *Server {
	return &Server{svc: svc, metrics: svc.metrics}
}

// Router assembles the gin engine with all gateway routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observe.Middleware(s.metrics))

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/models", s.handleModels)
	r.POST("/transcribe", s.handleTranscribe)
	r.POST("/transcribe/batch", s.handleTranscribeBatch)
	r.POST("/transcribe/retry", s.handleRetry)
	r.POST("/warmup", s.handleWarmup)
	r.GET("/ws/transcribe", s.handleWS)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	health.New(health.Checker{
		Name: "primary_engine",
		Check: func(context.Context) error {
			if !s.svc.primary.Available() {
				return errors.New("primary engine unavailable")
			}
			return nil
		},
	}).Register(r)

	return r
}

// apiError writes the uniform {"detail": ...} error body.
func apiError(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "lyssna-gateway",
		"version":  Version,
		"profiles": ProfileNames(),
		"endpoints": []string{
			"/transcribe", "/transcribe/batch", "/transcribe/retry",
			"/warmup", "/models", "/health", "/ws/transcribe",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Health(Version))
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Models())
}

// saveUpload spools a multipart file to a temp path. Returns the path and a
// cleanup func.
func saveUpload(fh *multipart.FileHeader) (string, func(), error) {
	src, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("gateway: open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "lyssna-upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", nil, fmt.Errorf("gateway: spool upload: %w", err)
	}
	n, err := io.Copy(dst, src)
	cerr := dst.Close()
	if err != nil || cerr != nil {
		os.Remove(dst.Name())
		return "", nil, fmt.Errorf("gateway: spool upload: %w", errors.Join(err, cerr))
	}
	if n == 0 {
		os.Remove(dst.Name())
		return "", nil, errEmptyUpload
	}
	return dst.Name(), func() { os.Remove(dst.Name()) }, nil
}

var errEmptyUpload = errors.New("empty upload")

// queryOrForm reads a request value from the URL query first, falling back to
// the multipart form for clients that post everything as form fields.
func queryOrForm(c *gin.Context, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return c.PostForm(key)
}

func (s *Server) handleTranscribe(c *gin.Context) {
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

	res, err := s.svc.TranscribeFile(c.Request.Context(),
		path, queryOrForm(c, "profile"), queryOrForm(c, "language"))
	if err != nil {
		slog.Error("transcription failed", "file", fh.Filename, "error", err)
		apiError(c, http.StatusInternalServerError, "Transkribering misslyckades")
		return
	}
	// include_timestamps=false keeps the text but drops the segment list.
	if v, perr := strconv.ParseBool(queryOrForm(c, "include_timestamps")); perr == nil && !v {
		res.Segments = nil
	}
	c.JSON(http.StatusOK, res)
}

// batchEntry is one per-file outcome in a batch response. Data and Error are
// mutually exclusive.
type batchEntry struct {
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleTranscribeBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		apiError(c, http.StatusBadRequest, "Ogiltig multipart-förfrågan")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		apiError(c, http.StatusBadRequest, "Inga filer bifogade")
		return
	}
	profile := queryOrForm(c, "profile")
	language := queryOrForm(c, "language")

	results := make([]batchEntry, 0, len(files))
	for _, fh := range files {
		entry := batchEntry{Filename: fh.Filename}
		path, cleanup, err := saveUpload(fh)
		if err != nil {
			entry.Error = err.Error()
			results = append(results, entry)
			continue
		}
		res, err := s.svc.TranscribeFile(c.Request.Context(), path, profile, language)
		cleanup()
		if err != nil {
			slog.Error("batch transcription failed", "file", fh.Filename, "error", err)
			entry.Error = err.Error()
		} else {
			entry.Success = true
			entry.Data = res
		}
		results = append(results, entry)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleRetry(c *gin.Context) {
	var req RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "Ogiltig JSON-kropp")
		return
	}
	if req.AudioBase64 == "" {
		apiError(c, http.StatusBadRequest, "audio_base64 krävs")
		return
	}
	wavData, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		apiError(c, http.StatusBadRequest, "audio_base64 är inte giltig base64")
		return
	}

	res, err := s.svc.Retry(c.Request.Context(), wavData, req)
	if err != nil {
		slog.Error("retry transcription failed", "error", err)
		apiError(c, http.StatusInternalServerError, "Omtranskribering misslyckades")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleWarmup(c *gin.Context) {
	profile := c.Query("profile")
	if profile == "" {
		var body struct {
			Profile string `json:"profile"`
		}
		// Body is optional; ignore decode errors and warm the default.
		_ = c.ShouldBindJSON(&body)
		profile = body.Profile
	}

	res, err := s.svc.Warmup(c.Request.Context(), profile)
	if err != nil {
		if errors.Is(err, ErrUnknownProfile) {
			apiError(c, http.StatusBadRequest, "Okänd profil: "+profile)
			return
		}
		slog.Error("warmup failed", "profile", profile, "error", err)
		apiError(c, http.StatusInternalServerError, "Uppvärmning misslyckades")
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListenAndServe runs the gateway until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
