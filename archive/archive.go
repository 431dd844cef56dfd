// Package archive persists the records of finished interview sessions.
//
// A Store is fed from interviewrt.Config.OnSessionEnd. PostgresStore keeps
// records in a single table through a pgx connection pool; FileStore writes
// one JSON document per session and needs no database.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/enesunal-m/interviewrt"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("archive: session not found")

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Store saves and retrieves session records. Saving a record with an id
// that already exists replaces it.
type Store interface {
	Save(ctx context.Context, rec interviewrt.SessionRecord) error
	List(ctx context.Context, limit int) ([]interviewrt.SessionRecord, error)
	Get(ctx context.Context, id string) (interviewrt.SessionRecord, error)
	Close() error
}

// FileStore keeps each record as <id>.json under Dir.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("archive: invalid session id %q", id)
	}
	return filepath.Join(s.Dir, id+".json"), nil
}

// Save writes rec atomically.
func (s *FileStore) Save(_ context.Context, rec interviewrt.SessionRecord) error {
	path, err := s.path(rec.ID)
	if err != nil {
		return err
	}
	if rec.Entries == nil {
		rec.Entries = []interviewrt.LogEntry{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", rec.ID, err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+rec.ID+"-*")
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", rec.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: save %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: save %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: save %s: %w", rec.ID, err)
	}
	return nil
}

// List returns up to limit records, most recently ended first.
func (s *FileStore) List(ctx context.Context, limit int) ([]interviewrt.SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	names, err := filepath.Glob(filepath.Join(s.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	recs := make([]interviewrt.SessionRecord, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := readRecord(name)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].EndedAt.After(recs[j].EndedAt) })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Get returns the record with id, or ErrNotFound.
func (s *FileStore) Get(_ context.Context, id string) (interviewrt.SessionRecord, error) {
	path, err := s.path(id)
	if err != nil {
		return interviewrt.SessionRecord{}, ErrNotFound
	}
	rec, err := readRecord(path)
	if errors.Is(err, os.ErrNotExist) {
		return interviewrt.SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func readRecord(path string) (interviewrt.SessionRecord, error) {
	var rec interviewrt.SessionRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("archive: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("archive: decode %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}
