// Package session persists transcription sessions on disk. A session is a
// directory under the sessions root named by its ID, holding the canonical
// audio, session.json metadata, the pipeline output (processed.json) and any
// re-interpretations (interpreted_<context>.json).
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hallqvist/lyssna/pkg/types"
)

// Well-known file names inside a session directory.
const (
	MetaFile      = "session.json"
	AudioFile     = "recording.wav"
	ProcessedFile = "processed.json"
)

// ErrNotFound is returned for unknown or invalid session IDs.
var ErrNotFound = errors.New("session: not found")

// idRE validates session IDs: a UTC timestamp plus the profile name. The
// strict shape doubles as path-traversal protection since IDs become
// directory names.
var idRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_[a-z0-9_]+$`)

// NewID builds a session ID from a UTC timestamp and profile name.
func NewID(now time.Time, profile string) string {
	return now.UTC().Format("2006-01-02_15-04-05") + "_" + profile
}

// ValidID reports whether id is a well-formed session ID.
func ValidID(id string) bool {
	return idRE.MatchString(id)
}

// Store manages session directories under a single root.
type Store struct {
	root string
}

// NewStore creates the sessions root if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("session: create root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Dir returns the directory of a session. The ID must be valid.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// Create writes a new session directory with its metadata.
func (s *Store) Create(meta *types.SessionMeta) error {
	if !ValidID(meta.SessionID) {
		return fmt.Errorf("session: invalid session id %q", meta.SessionID)
	}
	dir := s.Dir(meta.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: create %q: %w", meta.SessionID, err)
	}
	return writeJSON(filepath.Join(dir, MetaFile), meta)
}

// Meta loads a session's metadata.
func (s *Store) Meta(id string) (*types.SessionMeta, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	var meta types.SessionMeta
	if err := readJSON(filepath.Join(s.Dir(id), MetaFile), &meta); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &meta, nil
}

// MergeMeta merges fields into a session's metadata document. Existing keys
// not named in fields are preserved, so concurrent writers with disjoint
// keys cannot clobber each other's updates.
func (s *Store) MergeMeta(id string, fields map[string]any) error {
	if !ValidID(id) {
		return ErrNotFound
	}
	path := filepath.Join(s.Dir(id), MetaFile)

	doc := map[string]any{}
	if err := readJSON(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	for k, v := range fields {
		doc[k] = v
	}
	return writeJSON(path, doc)
}

// AudioPath returns the canonical audio file of a session, or ErrNotFound
// when the session has no audio.
func (s *Store) AudioPath(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrNotFound
	}
	path := filepath.Join(s.Dir(id), AudioFile)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// WriteProcessed stores the pipeline output for a session.
func (s *Store) WriteProcessed(id string, res *types.ProcessedResult) error {
	if !ValidID(id) {
		return ErrNotFound
	}
	return writeJSON(filepath.Join(s.Dir(id), ProcessedFile), res)
}

// Processed loads the pipeline output, or nil when the session has not been
// processed yet.
func (s *Store) Processed(id string) (*types.ProcessedResult, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	var res types.ProcessedResult
	if err := readJSON(filepath.Join(s.Dir(id), ProcessedFile), &res); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// WriteInterpretation stores a re-interpretation output under its context
// profile name.
func (s *Store) WriteInterpretation(id, contextProfile string, res *types.ProcessedResult) error {
	if !ValidID(id) {
		return ErrNotFound
	}
	return writeJSON(filepath.Join(s.Dir(id), interpretationFile(contextProfile)), res)
}

// Interpretation loads one re-interpretation, or nil when absent.
func (s *Store) Interpretation(id, contextProfile string) (*types.ProcessedResult, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	var res types.ProcessedResult
	err := readJSON(filepath.Join(s.Dir(id), interpretationFile(contextProfile)), &res)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Interpretations lists the context profiles a session has been
// re-interpreted under.
func (s *Store) Interpretations(id string) ([]string, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	entries, err := os.ReadDir(s.Dir(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: list %q: %w", id, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "interpreted_") && strings.HasSuffix(name, ".json") {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "interpreted_"), ".json"))
		}
	}
	sort.Strings(out)
	return out, nil
}

// previewLen bounds the text preview in listings.
const previewLen = 200

// Entry is one row in a session listing.
type Entry struct {
	SessionID        string  `json:"session_id"`
	Profile          string  `json:"profile"`
	StartedAt        string  `json:"started_at"`
	Duration         float64 `json:"duration"`
	Preview          string  `json:"preview"`
	ProcessingStatus string  `json:"processing_status,omitempty"`
	Source           string  `json:"source,omitempty"`
}

// List returns sessions newest first. limit <= 0 means no limit.
func (s *Store) List(limit, offset int) ([]Entry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("session: list root: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	// IDs start with the UTC timestamp, so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		meta, err := s.Meta(id)
		if err != nil {
			// Tolerate partially written sessions.
			continue
		}
		out = append(out, Entry{
			SessionID:        meta.SessionID,
			Profile:          meta.Profile,
			StartedAt:        meta.StartedAt,
			Duration:         meta.Duration,
			Preview:          preview(meta.Text),
			ProcessingStatus: meta.ProcessingStatus,
			Source:           meta.Source,
		})
	}
	return out, nil
}

// Full is a session with its pipeline outputs attached.
type Full struct {
	*types.SessionMeta
	Processed       *types.ProcessedResult `json:"processed,omitempty"`
	Interpretations []string               `json:"interpretations,omitempty"`
}

// Get loads a session with its processed output and interpretation index.
func (s *Store) Get(id string) (*Full, error) {
	meta, err := s.Meta(id)
	if err != nil {
		return nil, err
	}
	processed, err := s.Processed(id)
	if err != nil {
		return nil, err
	}
	interps, err := s.Interpretations(id)
	if err != nil {
		return nil, err
	}
	return &Full{SessionMeta: meta, Processed: processed, Interpretations: interps}, nil
}

func interpretationFile(contextProfile string) string {
	return "interpreted_" + contextProfile + ".json"
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLen {
		return text
	}
	return string(runes[:previewLen])
}

// writeJSON writes a document atomically via temp file + rename, so readers
// never observe a partial file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("session: write %s: %w", filepath.Base(path), err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("session: write %s: %w", filepath.Base(path), errors.Join(werr, cerr))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("session: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("session: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
