package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 3200) // 100 ms of 16 kHz mono PCM16
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+3200 {
		t.Fatalf("expected %d bytes, got %d", 44+3200, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("bad container magic: %q %q", wav[0:4], wav[8:12])
	}
	if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != 16000 {
		t.Errorf("sample rate = %d, want 16000", sr)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if ds := binary.LittleEndian.Uint32(wav[40:44]); ds != 3200 {
		t.Errorf("data size = %d, want 3200", ds)
	}
}

func TestSilenceWAV_DeterministicSize(t *testing.T) {
	t.Parallel()

	wav := SilenceWAV(100 * time.Millisecond)
	// 0.1 s * 16000 Hz * 2 bytes + 44-byte header.
	if len(wav) != 44+3200 {
		t.Fatalf("expected %d bytes, got %d", 44+3200, len(wav))
	}
	for _, b := range wav[44:] {
		if b != 0 {
			t.Fatal("silence contains non-zero samples")
		}
	}
}

func TestReadSamples_RoundTrip(t *testing.T) {
	t.Parallel()

	// Two known samples: full-scale negative and half-scale positive.
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:2], 0x8000) // -32768
	binary.LittleEndian.PutUint16(pcm[2:4], 0x4000) // 16384

	path := filepath.Join(t.TempDir(), "two.wav")
	if err := os.WriteFile(path, EncodeWAV(pcm, 16000, 1), 0o644); err != nil {
		t.Fatal(err)
	}

	samples, err := ReadSamples(path)
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0] != -1.0 {
		t.Errorf("samples[0] = %v, want -1.0", samples[0])
	}
	if samples[1] != 0.5 {
		t.Errorf("samples[1] = %v, want 0.5", samples[1])
	}
}

func TestReadSamples_NotWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bogus.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSamples(path); err == nil {
		t.Fatal("expected error for non-WAV input")
	}
}

func TestParseProbeDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12.345\n", 12.345, false},
		{"", 0, false},
		{"N/A\n", 0, false},
		{"garbage", 0, true},
	}
	for _, tt := range tests {
		got, err := parseProbeDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseProbeDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseProbeDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteConcatManifest_EscapesQuotes(t *testing.T) {
	t.Parallel()

	path, err := writeConcatManifest([]string{"/tmp/a.webm", "/tmp/it's.webm"})
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "file '/tmp/a.webm'\nfile '/tmp/it'\\''s.webm'\n"
	if string(data) != want {
		t.Errorf("manifest = %q, want %q", data, want)
	}
}
