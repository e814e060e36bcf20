// Package hashing computes the stable content hashes that give tasks and
// nodes their identity: the same logical bytes, path, or value always
// reduces to the same digest, independent of process memory layout or
// run order.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// Digest is a hex-encoded SHA-256 sum. The empty Digest means "no state"
// (an absent file, an unset value): HashPath returns it for a missing file
// and HashValue alongside ok=false; no Hash* function returns it for
// content that is present.
type Digest string

func (d Digest) String() string { return string(d) }

// HashPathSizeThreshold is the file size above which HashPath falls back to
// a (size, mtime) fingerprint instead of hashing content, fixed at 64 MiB so
// behavior is explicit and documented.
const HashPathSizeThreshold = 64 * 1024 * 1024

func writeLengthPrefixed(h io.Writer, data []byte) {
	length := uint64(len(data))
	var lenBytes [8]byte
	for i := 0; i < 8; i++ {
		lenBytes[7-i] = byte(length >> (8 * i))
	}
	h.Write(lenBytes[:])
	h.Write(data)
}

// HashBytes returns the SHA-256 hex digest of b.
func HashBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// HashPath hashes the content of the file at p. A missing file returns the
// empty Digest (the node's state is absent, never an error). Files larger
// than HashPathSizeThreshold are fingerprinted by (size, mtime) rather than
// read in full.
func HashPath(p string) (Digest, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("hashing: %q is a directory, not a file", p)
	}

	if info.Size() > HashPathSizeThreshold {
		h := sha256.New()
		writeLengthPrefixed(h, []byte("size-mtime-fallback"))
		writeLengthPrefixed(h, []byte(fmt.Sprintf("%d", info.Size())))
		writeLengthPrefixed(h, []byte(info.ModTime().UTC().Format("20060102T150405.000000000Z")))
		return Digest(hex.EncodeToString(h.Sum(nil))), nil
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// Hashable lets an in-memory value supply its own stable hash. Values that
// don't implement it fall back to canonical encodings of scalars,
// ordered sequences, and sorted maps ; values that are none of those
// have no stable representation and HashValue reports ok=false, signaling
// "always changed" to the caller.
type Hashable interface {
	HashValue() string
}

// HashValue computes a stable digest for an in-memory value. ok is false
// when v has no canonical representation and no Hashable implementation;
// callers must then treat the owning node as always-changed rather than
// erroring.
func HashValue(v any) (digest Digest, ok bool) {
	h := sha256.New()
	if hashValueInto(h, v) {
		return Digest(hex.EncodeToString(h.Sum(nil))), true
	}
	return "", false
}

func hashValueInto(h io.Writer, v any) bool {
	switch x := v.(type) {
	case Hashable:
		writeLengthPrefixed(h, []byte("hashable"))
		writeLengthPrefixed(h, []byte(x.HashValue()))
		return true
	case nil:
		writeLengthPrefixed(h, []byte("nil"))
		return true
	case bool:
		writeLengthPrefixed(h, []byte("bool"))
		if x {
			writeLengthPrefixed(h, []byte{1})
		} else {
			writeLengthPrefixed(h, []byte{0})
		}
		return true
	case string:
		writeLengthPrefixed(h, []byte("str"))
		writeLengthPrefixed(h, []byte(x))
		return true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		writeLengthPrefixed(h, []byte("int"))
		writeLengthPrefixed(h, []byte(fmt.Sprintf("%d", x)))
		return true
	case float32, float64:
		writeLengthPrefixed(h, []byte("float"))
		writeLengthPrefixed(h, []byte(fmt.Sprintf("%g", x)))
		return true
	case []any:
		writeLengthPrefixed(h, []byte("seq"))
		writeLengthPrefixed(h, []byte(fmt.Sprintf("%d", len(x))))
		for _, elem := range x {
			if !hashValueInto(h, elem) {
				return false
			}
		}
		return true
	case map[string]any:
		writeLengthPrefixed(h, []byte("map"))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeLengthPrefixed(h, []byte(fmt.Sprintf("%d", len(keys))))
		for _, k := range keys {
			writeLengthPrefixed(h, []byte(k))
			if !hashValueInto(h, x[k]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// TaskBody hashes a task's definition: the source text of its body plus the
// canonical form of its markers. It changes iff the task definition itself
// changed, independent of its inputs or outputs.
func TaskBody(sourceText string, canonicalMarkers []string) Digest {
	h := sha256.New()
	writeLengthPrefixed(h, []byte(sourceText))
	sorted := make([]string, len(canonicalMarkers))
	copy(sorted, canonicalMarkers)
	sort.Strings(sorted)
	writeLengthPrefixed(h, []byte(fmt.Sprintf("%d", len(sorted))))
	for _, m := range sorted {
		writeLengthPrefixed(h, []byte(m))
	}
	return Digest(hex.EncodeToString(h.Sum(nil)))
}
