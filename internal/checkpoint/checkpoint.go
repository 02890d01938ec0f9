// Package checkpoint persists periodic recording snapshots and the
// finalized activity artifact. Writes are atomic: a crash mid-write leaves
// the previous checkpoint intact and never a half-written file visible to
// recovery.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deancochran/gradientpeak-sub005/internal/activity"
	"github.com/deancochran/gradientpeak-sub005/internal/metrics"
	"github.com/deancochran/gradientpeak-sub005/internal/session"
)

// Checkpoint is one durable snapshot of a live session. Sequence increases
// monotonically within a session; ReadingCursor counts readings already in
// the raw stream when the snapshot was taken.
type Checkpoint struct {
	SessionID     string          `json:"session_id"`
	Sequence      int64           `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
	Session       session.Session `json:"session"`
	Metrics       metrics.State   `json:"metrics"`
	ReadingCursor int64           `json:"reading_cursor"`
}

// envelope wraps the checkpoint body with its checksum so recovery can
// tell a consistent file from a torn or tampered one.
type envelope struct {
	Checksum string          `json:"checksum"`
	Body     json.RawMessage `json:"body"`
}

const (
	checkpointPrefix = "cp-"
	checkpointSuffix = ".json"
	defaultKeep      = 3
)

// FileStore keeps checkpoints under root/<sessionID>/ and finalized
// artifacts under root/activities/. It is safe for use by a single writer
// per session, which is how the recorder drives it.
type FileStore struct {
	root string
	keep int
	log  *slog.Logger
}

// NewFileStore creates the store root if needed. keep bounds how many
// checkpoints survive per session; zero means the default of 3.
func NewFileStore(root string, keep int, log *slog.Logger) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if keep <= 0 {
		keep = defaultKeep
	}
	if err := os.MkdirAll(filepath.Join(root, "activities"), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint root: %w", err)
	}
	return &FileStore{root: root, keep: keep, log: log}, nil
}

// Dir returns the per-session directory. The raw reading stream lives next
// to the checkpoints so discard removes everything at once.
func (s *FileStore) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// ActivitiesDir returns the directory holding finalized artifacts and any
// export files written alongside them.
func (s *FileStore) ActivitiesDir() string {
	return filepath.Join(s.root, "activities")
}

// Write persists cp atomically and prunes checkpoints older than the
// retained window.
func (s *FileStore) Write(cp Checkpoint) error {
	dir := s.Dir(cp.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{SessionID: cp.SessionID, Sequence: cp.Sequence, Err: err}
	}
	body, err := json.Marshal(cp)
	if err != nil {
		return &WriteError{SessionID: cp.SessionID, Sequence: cp.Sequence, Err: err}
	}
	sum := sha256.Sum256(body)
	data, err := json.Marshal(envelope{Checksum: hex.EncodeToString(sum[:]), Body: body})
	if err != nil {
		return &WriteError{SessionID: cp.SessionID, Sequence: cp.Sequence, Err: err}
	}
	name := fmt.Sprintf("%s%09d%s", checkpointPrefix, cp.Sequence, checkpointSuffix)
	if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
		return &WriteError{SessionID: cp.SessionID, Sequence: cp.Sequence, Err: err}
	}
	s.prune(cp.SessionID)
	return nil
}

// LoadLatest returns the most recent consistent checkpoint, or nil when the
// session has none. Corrupt files are skipped with a warning; if files
// exist but none parse, the caller gets a CorruptError and must decide
// what happens next. The store never deletes user data on its own.
func (s *FileStore) LoadLatest(sessionID string) (*Checkpoint, error) {
	seqs, err := s.sequences(sessionID)
	if err != nil || len(seqs) == 0 {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.IntSlice(seqs)))
	for _, seq := range seqs {
		path := filepath.Join(s.Dir(sessionID), fmt.Sprintf("%s%09d%s", checkpointPrefix, int64(seq), checkpointSuffix))
		cp, err := readCheckpoint(path)
		if err != nil {
			s.log.Warn("skipping unreadable checkpoint", "session_id", sessionID, "path", path, "error", err)
			continue
		}
		return cp, nil
	}
	return nil, &CorruptError{SessionID: sessionID, Tried: len(seqs)}
}

// Sessions lists session IDs that still have checkpoint directories,
// newest directory name order not guaranteed.
func (s *FileStore) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "activities" {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Discard removes every local trace of the session: checkpoints and the
// raw stream that shares its directory.
func (s *FileStore) Discard(sessionID string) error {
	if err := os.RemoveAll(s.Dir(sessionID)); err != nil {
		return fmt.Errorf("discard session %s: %w", sessionID, err)
	}
	return nil
}

// ClearCheckpoints removes the session's intermediate checkpoints after a
// successful finalize, leaving the raw stream in place for the artifact's
// reference.
func (s *FileStore) ClearCheckpoints(sessionID string) error {
	seqs, err := s.sequences(sessionID)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		path := filepath.Join(s.Dir(sessionID), fmt.Sprintf("%s%09d%s", checkpointPrefix, int64(seq), checkpointSuffix))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("clear checkpoints for %s: %w", sessionID, err)
		}
	}
	return nil
}

// ErrArtifactExists guards artifact immutability.
var ErrArtifactExists = errors.New("activity artifact already exists")

func (s *FileStore) artifactPath(id string) string {
	return filepath.Join(s.root, "activities", id+".json")
}

// WriteArtifact persists the finalized activity and returns its path.
// An existing artifact is never overwritten.
func (s *FileStore) WriteArtifact(a activity.Activity) (string, error) {
	path := s.artifactPath(a.ID)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("activity %s: %w", a.ID, ErrArtifactExists)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal activity %s: %w", a.ID, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("write activity %s: %w", a.ID, err)
	}
	return path, nil
}

// LoadArtifact reads one finalized activity by ID.
func (s *FileStore) LoadArtifact(id string) (activity.Activity, error) {
	var a activity.Activity
	data, err := os.ReadFile(s.artifactPath(id))
	if err != nil {
		return a, fmt.Errorf("read activity %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("parse activity %s: %w", id, err)
	}
	return a, nil
}

// ListArtifacts returns all finalized activities, newest start first.
func (s *FileStore) ListArtifacts() ([]activity.Activity, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "activities"))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	var out []activity.Activity
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := s.LoadArtifact(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			s.log.Warn("skipping unreadable activity", "path", e.Name(), "error", err)
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *FileStore) sequences(sessionID string) ([]int, error) {
	entries, err := os.ReadDir(s.Dir(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", sessionID, err)
	}
	var seqs []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, checkpointSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), checkpointSuffix))
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	return seqs, nil
}

func (s *FileStore) prune(sessionID string) {
	seqs, err := s.sequences(sessionID)
	if err != nil || len(seqs) <= s.keep {
		return
	}
	sort.Sort(sort.Reverse(sort.IntSlice(seqs)))
	for _, seq := range seqs[s.keep:] {
		path := filepath.Join(s.Dir(sessionID), fmt.Sprintf("%s%09d%s", checkpointPrefix, int64(seq), checkpointSuffix))
		if err := os.Remove(path); err != nil {
			s.log.Warn("pruning old checkpoint failed", "session_id", sessionID, "path", path, "error", err)
		}
	}
}

func readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	sum := sha256.Sum256(env.Body)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("checksum mismatch")
	}
	var cp Checkpoint
	if err := json.Unmarshal(env.Body, &cp); err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	return &cp, nil
}

// writeAtomic lands data at path via temp file, fsync, and rename, so
// readers only ever observe the old file or the complete new one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
