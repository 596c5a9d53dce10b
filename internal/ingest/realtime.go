package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/hallqvist/lyssna/internal/gateway"
	"github.com/hallqvist/lyssna/pkg/types"
)

// minChunkBytes filters out tiny blobs that carry no usable audio (browser
// recorders emit a few header-only frames at the start of a stream).
const minChunkBytes = 500

// finalizeTimeout bounds the save-and-submit work after a client disconnects.
const finalizeTimeout = 2 * time.Minute

// chunkReply is the frame sent back for each transcribed realtime chunk.
type chunkReply struct {
	Text     string          `json:"text"`
	Chunk    int             `json:"chunk"`
	Profile  string          `json:"profile"`
	Segments []types.Segment `json:"segments"`
}

// handleRealtime runs a realtime transcription session over WebSocket. The
// client streams binary audio chunks (WebM/Opus); each chunk is transcribed
// individually and answered with a chunkReply. When the client disconnects,
// the accumulated chunks are concatenated into a session and a pipeline job
// is submitted.
func (s *Server) handleRealtime(c *gin.Context) {
	profile := c.DefaultQuery("profile", DefaultProfile)

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.Background(), -1)

	spool, err := os.MkdirTemp("", "lyssna-realtime-*")
	if err != nil {
		slog.Error("failed to create chunk spool", "error", err)
		return
	}
	defer os.RemoveAll(spool)

	var (
		chunkPaths  []string
		transcripts []*types.TranscriptResult
		chunkIndex  int
	)
	startedAt := time.Now().UTC().Format(time.RFC3339)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Disconnect ends the session; anything buffered gets saved.
			break
		}
		if typ != websocket.MessageBinary || len(data) < minChunkBytes {
			continue
		}

		chunkPath := filepath.Join(spool, fmt.Sprintf("chunk_%04d.webm", len(chunkPaths)))
		if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
			slog.Error("failed to spool chunk", "error", err)
			continue
		}
		chunkPaths = append(chunkPaths, chunkPath)

		res, err := s.gateway.Transcribe(ctx, chunkPath, profile, "")
		if err != nil {
			_ = wsjson.Write(ctx, conn, map[string]string{"error": err.Error()})
			continue
		}
		text := strings.TrimSpace(res.Text)
		// Empty or punctuation-only results are hallucinated noise.
		if text == "" || gateway.IsNoiseText(text) {
			continue
		}
		transcripts = append(transcripts, res)

		if err := wsjson.Write(ctx, conn, chunkReply{
			Text:     text,
			Chunk:    chunkIndex,
			Profile:  profile,
			Segments: res.Segments,
		}); err != nil {
			break
		}
		chunkIndex++
	}

	if len(chunkPaths) == 0 {
		return
	}

	// The request context died with the connection; finalize on its own clock.
	finCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	endedAt := time.Now().UTC().Format(time.RFC3339)
	sessionID, err := s.svc.FinalizeRealtime(finCtx, chunkPaths, transcripts, profile, startedAt, endedAt)
	if err != nil {
		slog.Error("failed to finalize realtime session", "error", err)
		return
	}
	slog.Info("realtime session saved",
		"session_id", sessionID, "chunks", len(chunkPaths), "transcripts", len(transcripts))
}
