// Package audio provides the canonical-audio plumbing shared by the lyssna
// services: WAV encoding and decoding, and external ffmpeg/ffprobe invocation
// for format canonicalization.
//
// Canonical audio throughout the platform is 16 kHz mono 16-bit PCM WAV.
package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	gowav "github.com/go-audio/wav"
)

const (
	// CanonicalSampleRate is the sample rate every ASR engine consumes.
	CanonicalSampleRate = 16000

	// CanonicalChannels is mono.
	CanonicalChannels = 1

	bitsPerSample = 16
)

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for writing to disk
// or direct inclusion in a multipart form upload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// SilenceWAV returns a canonical-format WAV containing d of digital silence.
// Used to warm model caches with a deterministic tiny input.
func SilenceWAV(d time.Duration) []byte {
	samples := int(d.Seconds() * CanonicalSampleRate)
	pcm := make([]byte, samples*2)
	return EncodeWAV(pcm, CanonicalSampleRate, CanonicalChannels)
}

// ReadSamples decodes a canonical WAV file into float32 samples in [-1, 1],
// the representation the ASR engines and the diarizer consume.
func ReadSamples(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open wav: %w", err)
	}
	defer f.Close()

	dec := gowav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: %s is not a valid wav file", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}

	scale := float32(int(1) << (buf.SourceBitDepth - 1))
	if buf.SourceBitDepth == 0 {
		scale = 1 << (bitsPerSample - 1)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return samples, nil
}
