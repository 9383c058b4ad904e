// Package checkpoint records completed lookup outcomes, reports progress, and
// periodically persists a snapshot so an interrupted run can resume without
// re-querying resolved numbers.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/svplaksin/fssp-api/pkg/fssp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoSnapshot is returned by Load when no snapshot file exists.
var ErrNoSnapshot = errors.New("no snapshot file")

// Snapshot is a durable copy of run progress: every terminal outcome so far
// plus the numbers not yet attempted. It round-trips the result set
// losslessly.
type Snapshot struct {
	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`

	// Partial marks a snapshot taken from an interrupted run.
	Partial bool `json:"partial"`

	// Completed holds the terminal outcome per number.
	Completed map[string]fssp.Outcome `json:"completed"`

	// Pending lists the numbers that were never attempted.
	Pending []string `json:"pending"`
}

// Marshal serializes the snapshot.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot deserializes and validates a snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	if !json.Valid(data) {
		return Snapshot{}, fmt.Errorf("snapshot is not valid JSON")
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	for number, o := range s.Completed {
		if !o.Terminal() {
			return Snapshot{}, fmt.Errorf("snapshot outcome for %s is not terminal (%q)", number, o.Status)
		}
	}

	return s, nil
}

// Load reads a snapshot from disk. Returns ErrNoSnapshot when the file does
// not exist.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return UnmarshalSnapshot(data)
}

// WriteAtomic persists the snapshot so a reader can never observe a partially
// written file: the document is written to a temp file in the target
// directory, synced, and renamed into place.
func (s Snapshot) WriteAtomic(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	return nil
}

// ResultSet rebuilds a result set from the snapshot's completed outcomes.
func (s Snapshot) ResultSet() (*fssp.ResultSet, error) {
	rs := fssp.NewResultSet()
	for _, o := range s.Completed {
		if err := rs.Record(o); err != nil {
			return nil, fmt.Errorf("restore outcome for %s: %w", o.Number, err)
		}
	}
	if s.Partial {
		rs.MarkPartial()
	}
	return rs, nil
}
