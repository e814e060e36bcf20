// Package node implements the uniform node model: one end of a dependency
// edge between tasks, with a stable signature and a content-derived state.
package node

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"taskweave/internal/hashing"
)

// ErrProvisional is returned by State/Load/Save on a node that has not yet
// been resolved into concrete nodes by the provisional resolver.
var ErrProvisional = errors.New("node: provisional node must be resolved before use")

// Node is the uniform interface over path-backed, in-memory, and
// provisional nodes. load(is_product=true) may return the node itself so a
// task can call Save on it; load(is_product=false) returns the consumable
// value.
type Node interface {
	// Signature is the stable identifier used as the primary key in the
	// state store and the DAG.
	Signature() string
	// Name is a human-readable label; it has no identity role.
	Name() string
	// State is a pure function of the node's external content. The empty
	// Digest means the node is currently absent.
	State() (hashing.Digest, error)
	Load(isProduct bool) (any, error)
	Save(value any) error
}

// Provisional is implemented by nodes that must be resolved into one or
// more concrete Nodes before they may appear in the DAG.
type Provisional interface {
	Collect() ([]Node, error)
}

func posixPath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// PathNode owns a filesystem path. Its state is the file's content hash, or
// the empty Digest when the file does not exist.
type PathNode struct {
	Path string
}

func NewPathNode(path string) *PathNode {
	return &PathNode{Path: path}
}

func (n *PathNode) Signature() string { return posixPath(n.Path) }
func (n *PathNode) Name() string      { return filepath.Base(n.Path) }

func (n *PathNode) State() (hashing.Digest, error) {
	return hashing.HashPath(n.Path)
}

// Load returns the path string for both dependency and product loads; the
// task body opens and writes the path directly, so Save has nothing to do.
func (n *PathNode) Load(isProduct bool) (any, error) {
	return n.Path, nil
}

// Save is a no-op: the task writes the file directly at n.Path.
func (n *PathNode) Save(value any) error {
	return nil
}

// CheckCasing compares path's final element against the directory entry
// actually on disk, case-insensitively. It reports a mismatch (not an
// error) on filesystems that preserve but don't enforce case, where a
// declared path that differs only in case from the real entry would still
// resolve but silently drift across platforms.
func CheckCasing(path string) (matches bool, actual string, err error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, "", nil
		}
		return false, "", err
	}
	for _, e := range entries {
		if e.Name() == base {
			return true, e.Name(), nil
		}
		if strings.EqualFold(e.Name(), base) {
			return false, e.Name(), nil
		}
	}
	return true, "", nil
}

// ValueNode owns an in-memory value. Its state is a stable hash of the
// value when the value is canonically hashable; otherwise the node reports
// a fresh, unstored token each call so change detection always sees it as
// changed.
type ValueNode struct {
	NodeName string
	Value    any

	// AlwaysChangedSeq is mixed into the token State returns for a
	// non-hashable value, and State bumps it on every such call so no two
	// calls return the same token; it starts at 0.
	AlwaysChangedSeq int
}

func NewValueNode(name string, value any) *ValueNode {
	return &ValueNode{NodeName: name, Value: value}
}

func (n *ValueNode) Signature() string { return n.NodeName }
func (n *ValueNode) Name() string      { return n.NodeName }

func (n *ValueNode) State() (hashing.Digest, error) {
	if n.Value == nil {
		return "", nil
	}
	digest, ok := hashing.HashValue(n.Value)
	if !ok {
		// No canonical encoding and no Hashable hook: signal "always
		// changed" via a digest that is never stable across calls.
		token := hashing.HashBytes([]byte(fmt.Sprintf("always-changed::%s::%d", n.NodeName, n.AlwaysChangedSeq)))
		n.AlwaysChangedSeq++
		return token, nil
	}
	return digest, nil
}

func (n *ValueNode) Load(isProduct bool) (any, error) {
	if isProduct {
		return n, nil
	}
	return n.Value, nil
}

func (n *ValueNode) Save(value any) error {
	n.Value = value
	return nil
}

// PickleNode is a path-backed serialized value. Load deserializes via gob;
// Save serializes via gob. State is the file's content hash, matching
// PathNode.
type PickleNode struct {
	Path string
}

// gob needs the concrete types carried inside an interface value registered
// before it can encode or decode them; these are the generic containers a
// PickleNode value is most often built from.
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

func NewPickleNode(path string) *PickleNode {
	return &PickleNode{Path: path}
}

func (n *PickleNode) Signature() string { return posixPath(n.Path) }
func (n *PickleNode) Name() string      { return filepath.Base(n.Path) }

func (n *PickleNode) State() (hashing.Digest, error) {
	return hashing.HashPath(n.Path)
}

func (n *PickleNode) Load(isProduct bool) (any, error) {
	if isProduct {
		return n, nil
	}
	f, err := os.Open(n.Path)
	if err != nil {
		return nil, fmt.Errorf("pickle node %q: %w", n.Path, err)
	}
	defer f.Close()

	var v any
	if err := gob.NewDecoder(f).Decode(&v); err != nil {
		return nil, fmt.Errorf("pickle node %q: decode: %w", n.Path, err)
	}
	return v, nil
}

func (n *PickleNode) Save(value any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return fmt.Errorf("pickle node %q: encode: %w", n.Path, err)
	}
	if err := os.MkdirAll(filepath.Dir(n.Path), 0o755); err != nil {
		return fmt.Errorf("pickle node %q: mkdir: %w", n.Path, err)
	}
	return os.WriteFile(n.Path, buf.Bytes(), 0o644)
}

// DirectoryNode is a provisional node: (root_dir, glob_pattern). It has no
// own state and reaching the DAG with one unresolved is a bug in the
// caller, not a recoverable state.
type DirectoryNode struct {
	RootDir     string
	GlobPattern string
}

func NewDirectoryNode(rootDir, globPattern string) *DirectoryNode {
	return &DirectoryNode{RootDir: rootDir, GlobPattern: globPattern}
}

func (n *DirectoryNode) Signature() string {
	return fmt.Sprintf("provisional::%s::%s", posixPath(n.RootDir), n.GlobPattern)
}
func (n *DirectoryNode) Name() string { return n.GlobPattern }

func (n *DirectoryNode) State() (hashing.Digest, error) { return "", ErrProvisional }
func (n *DirectoryNode) Load(isProduct bool) (any, error) {
	return nil, ErrProvisional
}
func (n *DirectoryNode) Save(value any) error { return ErrProvisional }

// Collect lists the paths currently matching RootDir/GlobPattern and
// expands them into concrete PathNodes, sorted for determinism.
func (n *DirectoryNode) Collect() ([]Node, error) {
	pattern := filepath.Join(n.RootDir, n.GlobPattern)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("directory node %q: %w", pattern, err)
	}
	sort.Strings(matches)

	out := make([]Node, 0, len(matches))
	for _, m := range matches {
		out = append(out, NewPathNode(m))
	}
	return out, nil
}

var (
	_ Node        = (*PathNode)(nil)
	_ Node        = (*ValueNode)(nil)
	_ Node        = (*PickleNode)(nil)
	_ Node        = (*DirectoryNode)(nil)
	_ Provisional = (*DirectoryNode)(nil)
)
