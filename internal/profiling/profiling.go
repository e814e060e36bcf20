// Package profiling implements the optional runtimes.json store: per-task
// execution durations recorded across runs, with the same
// journal-plus-snapshot durability discipline as the state store.
package profiling

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"taskweave/internal/errs"
)

// Entry is one recorded execution of a task.
type Entry struct {
	TaskID          string  `json:"task_id"`
	RunID           string  `json:"run_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Store accumulates Entry records, keyed by task id, across runs.
type Store struct {
	snapshotPath string
	journalPath  string

	entries map[string][]Entry
}

// Open loads runtimes.json (if present) and replays runtimes.journal on top
// of it, discarding any corrupt trailing journal line.
func Open(rootDir string) (*Store, error) {
	s := &Store{
		snapshotPath: filepath.Join(rootDir, "runtimes.json"),
		journalPath:  filepath.Join(rootDir, "runtimes.journal"),
		entries:      make(map[string][]Entry),
	}
	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := s.replayJournal(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadSnapshot() error {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindInternal, "", err, "read runtimes snapshot")
	}
	var snap map[string][]Entry
	if err := json.Unmarshal(data, &snap); err != nil {
		return errs.Wrap(errs.KindConfiguration, "", err, "decode runtimes snapshot")
	}
	s.entries = snap
	return nil
}

func (s *Store) replayJournal() error {
	f, err := os.Open(s.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindInternal, "", err, "open runtimes journal")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		if e.TaskID == "" {
			break
		}
		s.entries[e.TaskID] = append(s.entries[e.TaskID], e)
	}
	return nil
}

// Record appends a duration sample for taskID under a fresh run id, journaled
// immediately for crash tolerance.
func (s *Store) Record(taskID string, d time.Duration) error {
	entry := Entry{TaskID: taskID, RunID: uuid.NewString(), DurationSeconds: d.Seconds()}
	s.entries[taskID] = append(s.entries[taskID], entry)

	line, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.KindInternal, taskID, err, "marshal runtime entry")
	}
	line = append(line, '\n')
	return appendJournal(s.journalPath, line)
}

// History returns every recorded duration for taskID, oldest first.
func (s *Store) History(taskID string) []Entry {
	return append([]Entry(nil), s.entries[taskID]...)
}

// TaskIDs returns every task id with at least one recorded entry, sorted.
func (s *Store) TaskIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Mean returns the mean recorded duration for taskID, or 0 if there is none;
// the profile subcommand prints it.
func (s *Store) Mean(taskID string) time.Duration {
	history := s.entries[taskID]
	if len(history) == 0 {
		return 0
	}
	var total float64
	for _, e := range history {
		total += e.DurationSeconds
	}
	return time.Duration(total / float64(len(history)) * float64(time.Second))
}

// Flush writes the consolidated snapshot and deletes the journal.
func (s *Store) Flush() error {
	data, err := json.MarshalIndent(sortedSnapshot(s.entries), "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "encode runtimes snapshot")
	}
	if err := writeFileAtomic(s.snapshotPath, data, 0o644); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "write runtimes snapshot")
	}
	if err := os.Remove(s.journalPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindInternal, "", err, "remove runtimes journal")
	}
	return nil
}

func (s *Store) Close() error { return s.Flush() }

func sortedSnapshot(entries map[string][]Entry) map[string][]Entry {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make(map[string][]Entry, len(entries))
	for _, id := range ids {
		out[id] = entries[id]
	}
	return out
}

func appendJournal(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "mkdir runtimes journal dir")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "open runtimes journal for append")
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "append runtimes journal record")
	}
	return f.Sync()
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
