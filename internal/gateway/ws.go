package gateway

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/hallqvist/lyssna/pkg/types"
)

// wsIdleTimeout closes streaming sessions with no client traffic.
const wsIdleTimeout = 5 * time.Minute

// clientFrame is a message from the streaming client. Audio is base64-encoded
// little-endian PCM16 at 16 kHz mono.
type clientFrame struct {
	Action   string `json:"action"`
	Profile  string `json:"profile,omitempty"`
	Language string `json:"language,omitempty"`
	Data     string `json:"data,omitempty"`
}

// serverFrame is a status or error message to the streaming client.
type serverFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Profile string `json:"profile,omitempty"`
}

// transcriptFrame carries a decoded buffer back to the streaming client. The
// fields sit flat on the frame next to type.
type transcriptFrame struct {
	Type          string          `json:"type"`
	Text          string          `json:"text"`
	IsFinal       bool            `json:"is_final"`
	Segments      []types.Segment `json:"segments"`
	Profile       string          `json:"profile"`
	Backend       string          `json:"backend"`
	InferenceTime float64         `json:"inference_time"`
}

// handleWS runs the streaming protocol: the client opens a session with
// "start", feeds PCM with "audio", requests decoding of everything buffered
// with "process" (the buffer is cleared afterwards) and ends with "stop".
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	var (
		profile  = s.svc.defaultProfile
		language string
		buffer   []float32
		started  bool
	)

	for {
		readCtx, cancel := context.WithTimeout(ctx, wsIdleTimeout)
		var frame clientFrame
		err := wsjson.Read(readCtx, conn, &frame)
		cancel()
		if err != nil {
			// Client went away or idled out; either ends the session.
			slog.Debug("websocket session ended", "error", err)
			return
		}

		switch frame.Action {
		case "start":
			if frame.Profile != "" {
				profile = frame.Profile
			}
			language = frame.Language
			p := s.svc.resolveProfile(profile)
			profile = p.Name
			buffer = buffer[:0]
			started = true
			s.wsSend(ctx, conn, serverFrame{
				Type: "status", Message: "Streaming startad", Profile: p.Name,
			})

		case "audio":
			if !started {
				s.wsSend(ctx, conn, serverFrame{Type: "error", Message: "Sessionen är inte startad"})
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(frame.Data)
			if err != nil {
				s.wsSend(ctx, conn, serverFrame{Type: "error", Message: "Ogiltig base64 i audio-frame"})
				continue
			}
			buffer = appendPCM16(buffer, pcm)

		case "process":
			if !started {
				s.wsSend(ctx, conn, serverFrame{Type: "error", Message: "Sessionen är inte startad"})
				continue
			}
			if len(buffer) == 0 {
				s.wsSend(ctx, conn, serverFrame{Type: "status", Message: "Ingen buffrad audio"})
				continue
			}
			res, err := s.svc.Transcribe(ctx, buffer, profile, language)
			buffer = buffer[:0]
			if err != nil {
				slog.Error("streaming transcription failed", "profile", profile, "error", err)
				s.wsSend(ctx, conn, serverFrame{Type: "error", Message: "Transkribering misslyckades"})
				continue
			}
			segments := res.Segments
			if segments == nil {
				segments = []types.Segment{}
			}
			s.wsSend(ctx, conn, transcriptFrame{
				Type:          "transcript",
				Text:          res.Text,
				IsFinal:       true,
				Segments:      segments,
				Profile:       res.Profile,
				Backend:       res.Backend,
				InferenceTime: res.InferenceTime,
			})

		case "stop":
			s.wsSend(ctx, conn, serverFrame{Type: "status", Message: "Streaming stoppad"})
			conn.Close(websocket.StatusNormalClosure, "stopped")
			return

		default:
			s.wsSend(ctx, conn, serverFrame{Type: "error", Message: "Okänd action: " + frame.Action})
		}
	}
}

func (s *Server) wsSend(ctx context.Context, conn *websocket.Conn, frame any) {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}

// appendPCM16 decodes little-endian signed 16-bit PCM into normalized float32
// samples and appends them to dst. A trailing odd byte is dropped.
func appendPCM16(dst []float32, pcm []byte) []float32 {
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i:]))
		dst = append(dst, float32(v)/float32(math.MaxInt16+1))
	}
	return dst
}
