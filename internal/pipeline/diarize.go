package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/hallqvist/lyssna/pkg/audio"
	"github.com/hallqvist/lyssna/pkg/types"
)

// UnknownSpeaker labels segments no diarized turn overlaps.
const UnknownSpeaker = "UNKNOWN"

// Diarizer segments audio samples by speaker. Implemented by the sherpa
// diarization pipeline.
type Diarizer interface {
	Process(samples []float32) ([]types.SpeakerTurn, error)
}

// Diarize attributes each segment to a speaker. Missing audio degrades to
// UNKNOWN speakers instead of failing the job; a broken audio file is a real
// error.
func Diarize(segments []types.Segment, audioPath string, d Diarizer) ([]types.Segment, error) {
	if audioPath == "" {
		slog.Warn("no audio path for diarization, labelling speakers unknown")
		for i := range segments {
			segments[i].SpeakerID = UnknownSpeaker
		}
		return segments, nil
	}

	samples, err := audio.ReadSamples(audioPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read audio for diarization: %w", err)
	}
	turns, err := d.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("pipeline: diarize: %w", err)
	}

	segments = AssignSpeakers(segments, turns)

	speakers := map[string]struct{}{}
	for i := range segments {
		speakers[segments[i].SpeakerID] = struct{}{}
	}
	slog.Info("diarization finished", "speakers", len(speakers), "segments", len(segments))
	return segments, nil
}

// AssignSpeakers labels each segment with the speaker whose turns overlap it
// the most. Strict greater-than keeps the first seen speaker on ties; no
// overlap at all yields UNKNOWN.
func AssignSpeakers(segments []types.Segment, turns []types.SpeakerTurn) []types.Segment {
	for i := range segments {
		seg := &segments[i]
		best := UnknownSpeaker
		bestOverlap := 0.0

		for _, turn := range turns {
			start := seg.Start
			if turn.Start > start {
				start = turn.Start
			}
			end := seg.End
			if turn.End < end {
				end = turn.End
			}
			if overlap := end - start; overlap > bestOverlap {
				bestOverlap = overlap
				best = turn.Speaker
			}
		}
		seg.SpeakerID = best
	}
	return segments
}
