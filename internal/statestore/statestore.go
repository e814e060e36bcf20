// Package statestore persists per-(task,node) state across runs: an
// append-only JSONL journal for crash-tolerant incremental updates, plus a
// consolidated TOML snapshot that the journal periodically collapses into,
// split into two files so a crash between writes never loses a committed
// update.
package statestore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"taskweave/internal/errs"
)

// CurrentLockVersion is the snapshot schema version this build writes and
// the highest version it accepts.
const CurrentLockVersion = "1.0"

// NodeEntry is one dependency or product entry within a TaskEntry.
type NodeEntry struct {
	ID    string `toml:"id" json:"id"`
	State struct {
		Value string `toml:"value" json:"value"`
	} `toml:"state" json:"state"`
}

// TaskEntry is the persisted record for one task: its own state hash plus
// the state of every dependency and product node observed the last time it
// ran successfully.
type TaskEntry struct {
	ID        string      `toml:"id" json:"id"`
	State     struct {
		Value string `toml:"value" json:"value"`
	} `toml:"state" json:"state"`
	DependsOn []NodeEntry `toml:"depends_on" json:"depends_on"`
	Produces  []NodeEntry `toml:"produces" json:"produces"`
}

type snapshot struct {
	LockVersion string      `toml:"lock-version"`
	Task        []TaskEntry `toml:"task"`
}

// Store is the in-memory index backed by a snapshot file and its journal.
// It is not safe for concurrent use; the driver (executor) serializes all
// access to it, matching the single-writer design of the state store.
type Store struct {
	snapshotPath string
	journalPath  string

	tasks map[string]TaskEntry // keyed by task id
}

// Open loads the snapshot (if any), then replays the journal on top of it.
// A prefix of valid journal lines is authoritative; an unreadable or
// truncated suffix is discarded rather than treated as fatal.
func Open(rootDir string) (*Store, error) {
	s := &Store{
		snapshotPath: filepath.Join(rootDir, "taskweave.lock"),
		journalPath:  filepath.Join(rootDir, "taskweave.lock.journal"),
		tasks:        make(map[string]TaskEntry),
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
		return errs.Wrap(errs.KindInternal, "", err, "read lockfile snapshot")
	}

	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return errs.Wrap(errs.KindConfiguration, "", err, "lockfile snapshot has invalid TOML")
	}
	version, _ := raw["lock-version"].(string)
	if version == "" {
		return errs.New(errs.KindConfiguration, "", "lockfile snapshot missing lock-version")
	}
	cmp, err := compareVersions(version, CurrentLockVersion)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "", err, "lockfile snapshot has unparsable lock-version %q", version)
	}
	if cmp > 0 {
		return errs.New(errs.KindConfiguration, "", "lockfile snapshot version %q is newer than the supported version %q", version, CurrentLockVersion)
	}

	var snap snapshot
	if _, err := toml.Decode(string(data), &snap); err != nil {
		return errs.Wrap(errs.KindConfiguration, "", err, "decode lockfile snapshot")
	}
	// cmp < 0: an older snapshot is migrated in-memory by simply adopting
	// the current version on next flush; no field migrations are needed
	// between 1.0 and itself.
	for _, entry := range snap.Task {
		s.tasks[entry.ID] = entry
	}
	return nil
}

func (s *Store) replayJournal() error {
	f, err := os.Open(s.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindInternal, "", err, "open journal")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry TaskEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A corrupt or truncated suffix is discarded, not fatal: stop
			// replay here and keep everything applied so far.
			break
		}
		if entry.ID == "" {
			break
		}
		s.tasks[entry.ID] = entry
	}
	return nil
}

// GetTaskState returns the stored state hash for taskID, or ok=false if
// there is no prior recorded state.
func (s *Store) GetTaskState(taskID string) (value string, ok bool) {
	entry, exists := s.tasks[taskID]
	if !exists {
		return "", false
	}
	return entry.State.Value, true
}

// GetNodeState returns the stored state hash of nodeID as last observed
// while running taskID.
func (s *Store) GetNodeState(taskID, nodeID string) (value string, ok bool) {
	entry, exists := s.tasks[taskID]
	if !exists {
		return "", false
	}
	for _, n := range entry.DependsOn {
		if n.ID == nodeID {
			return n.State.Value, true
		}
	}
	for _, n := range entry.Produces {
		if n.ID == nodeID {
			return n.State.Value, true
		}
	}
	return "", false
}

// UpdateTask atomically replaces the entry for taskID and appends a journal
// record. The write is skipped entirely when the new entry is identical to
// what is already stored.
func (s *Store) UpdateTask(taskID, taskState string, deps, prods []NodeEntry) error {
	entry := TaskEntry{ID: taskID, DependsOn: sortedNodeEntries(deps), Produces: sortedNodeEntries(prods)}
	entry.State.Value = taskState

	if existing, ok := s.tasks[taskID]; ok && entriesEqual(existing, entry) {
		return nil
	}

	s.tasks[taskID] = entry

	line, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.KindInternal, taskID, err, "marshal journal record")
	}
	line = append(line, '\n')
	return appendJournal(s.journalPath, line)
}

// DeleteTask drops an entry, used by clean_lockfile to sweep tasks that
// were not part of the current session.
func (s *Store) DeleteTask(taskID string) {
	delete(s.tasks, taskID)
}

// TaskIDs returns every task id currently indexed, sorted.
func (s *Store) TaskIDs() []string {
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flush writes the consolidated snapshot (sorted entries, sorted dep/prod
// lists within each entry) and deletes the journal.
func (s *Store) Flush() error {
	entries := make([]TaskEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	snap := snapshot{LockVersion: CurrentLockVersion, Task: entries}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(snap); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "encode lockfile snapshot")
	}

	if err := writeFileAtomic(s.snapshotPath, buf.Bytes(), 0o644); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "write lockfile snapshot")
	}
	if err := os.Remove(s.journalPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindInternal, "", err, "remove journal after flush")
	}
	return nil
}

// Close flushes the store.
func (s *Store) Close() error { return s.Flush() }

func sortedNodeEntries(entries []NodeEntry) []NodeEntry {
	out := make([]NodeEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func entriesEqual(a, b TaskEntry) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return bytes.Equal(ab, bb)
}

func appendJournal(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "mkdir journal dir")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "open journal for append")
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return errs.Wrap(errs.KindInternal, "", err, "append journal record")
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

// compareVersions compares two "MAJOR.MINOR" version strings numerically.
func compareVersions(a, b string) (int, error) {
	pa, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	pb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	if pa[0] != pb[0] {
		return pa[0] - pb[0], nil
	}
	return pa[1] - pb[1], nil
}

func parseVersion(v string) ([2]int, error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return [2]int{}, fmt.Errorf("invalid version %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return [2]int{}, err
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return [2]int{}, err
	}
	return [2]int{major, minor}, nil
}
