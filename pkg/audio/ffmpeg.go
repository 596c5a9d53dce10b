package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpegBin resolves the ffmpeg binary: FFMPEG_PATH env override, else PATH.
func ffmpegBin() string {
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		return p
	}
	return "ffmpeg"
}

func ffprobeBin() string {
	if p := os.Getenv("FFPROBE_PATH"); p != "" {
		return p
	}
	return "ffprobe"
}

// ConcatToWAV concatenates the given audio chunk files (in order) and
// converts the result to a canonical 16 kHz mono PCM16 WAV at dst. The chunks
// may be any container/codec ffmpeg understands (WebM/Opus for realtime
// sessions). The concat manifest is a temp file removed on all paths.
func ConcatToWAV(ctx context.Context, chunks []string, dst string) error {
	if len(chunks) == 0 {
		return fmt.Errorf("audio: no chunks to concatenate")
	}

	manifest, err := writeConcatManifest(chunks)
	if err != nil {
		return err
	}
	defer os.Remove(manifest)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-ac", strconv.Itoa(CanonicalChannels),
		"-c:a", "pcm_s16le",
		dst,
	}
	return runFFmpeg(ctx, args)
}

// ConvertToWAV converts a single uploaded audio file to canonical WAV at dst.
func ConvertToWAV(ctx context.Context, src, dst string) error {
	args := []string{
		"-y",
		"-i", src,
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-ac", strconv.Itoa(CanonicalChannels),
		"-c:a", "pcm_s16le",
		dst,
	}
	return runFFmpeg(ctx, args)
}

// ProbeDuration returns the duration in seconds of an audio file via ffprobe.
// Returns 0 with a nil error when ffprobe reports no duration (empty stream).
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, ffprobeBin(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("audio: ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeDuration(stdout.String())
}

func parseProbeDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("audio: parse ffprobe duration %q: %w", s, err)
	}
	return d, nil
}

// writeConcatManifest writes an ffmpeg concat-demuxer manifest listing the
// chunk files. Single quotes in paths are escaped per the demuxer's rules.
func writeConcatManifest(chunks []string) (string, error) {
	f, err := os.CreateTemp("", "lyssna-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("audio: create concat manifest: %w", err)
	}

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(c, "'", `'\''`))
		b.WriteString("'\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("audio: write concat manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("audio: close concat manifest: %w", err)
	}
	return f.Name(), nil
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, ffmpegBin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("audio: ffmpeg: %w: %s", err, msg)
	}
	return nil
}
