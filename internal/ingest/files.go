package ingest

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// fileEntry is one saved transcription note in a listing.
type fileEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

func (s *Server) handleListFiles(c *gin.Context) {
	if err := os.MkdirAll(s.filesDir, 0o755); err != nil {
		slog.Error("failed to create files dir", "dir", s.filesDir, "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte lista filer")
		return
	}
	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		slog.Error("failed to list files dir", "dir", s.filesDir, "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte lista filer")
		return
	}

	files := []fileEntry{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().Format(time.RFC3339),
		})
	}
	// Timestamped default names sort newest first this way.
	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleSaveFile(c *gin.Context) {
	var req struct {
		Text     string `json:"text"`
		Filename string `json:"filename"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "Ogiltig JSON-kropp")
		return
	}
	if err := os.MkdirAll(s.filesDir, 0o755); err != nil {
		slog.Error("failed to create files dir", "dir", s.filesDir, "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte spara filen")
		return
	}

	name := req.Filename
	if name == "" {
		name = "transkription_" + time.Now().Format("20060102_150405") + ".txt"
	} else if !strings.HasSuffix(name, ".txt") {
		name += ".txt"
	}
	// Strip any path components from client-supplied names.
	name = filepath.Base(name)

	path := filepath.Join(s.filesDir, name)
	if err := os.WriteFile(path, []byte(req.Text), 0o644); err != nil {
		slog.Error("failed to save file", "path", path, "error", err)
		apiError(c, http.StatusInternalServerError, "Kunde inte spara filen")
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "path": path})
}

func (s *Server) handleGetFile(c *gin.Context) {
	name := filepath.Base(c.Param("filename"))
	data, err := os.ReadFile(filepath.Join(s.filesDir, name))
	if err != nil {
		apiError(c, http.StatusNotFound, "Filen hittades inte")
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "text": string(data)})
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	name := filepath.Base(c.Param("filename"))
	if err := os.Remove(filepath.Join(s.filesDir, name)); err != nil {
		apiError(c, http.StatusNotFound, "Filen hittades inte")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}
