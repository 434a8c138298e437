package watcher

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/crypto/blake2b"
)

// hashBytes fingerprints content with BLAKE2b-256.
func hashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isText reports whether content is safe to diff as text.
func isText(data []byte) bool {
	return utf8.Valid(data) && !bytes.ContainsRune(data, 0)
}

// snapshot is the captured state of one file read.
type snapshot struct {
	hash    string
	size    int64
	content []byte // nil for binary or oversized files
}

// readSnapshot reads a file and fingerprints it. Files larger than maxSize
// are hashed in a streaming pass and their content is not retained, so they
// are recorded with a hash but never diffed.
func readSnapshot(path string, maxSize int64) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}

	if info.Size() > maxSize {
		f, err := os.Open(path)
		if err != nil {
			return snapshot{}, err
		}
		defer f.Close()

		h, err := blake2b.New256(nil)
		if err != nil {
			return snapshot{}, fmt.Errorf("init hash: %w", err)
		}
		size, err := io.Copy(h, f)
		if err != nil {
			return snapshot{}, err
		}
		return snapshot{hash: hex.EncodeToString(h.Sum(nil)), size: size}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}

	snap := snapshot{hash: hashBytes(data), size: int64(len(data))}
	if isText(data) {
		snap.content = data
	}
	return snap, nil
}

// unifiedDiff renders a unified diff between two text versions of relPath.
// Either side may be nil (creation or deletion).
func unifiedDiff(oldContent, newContent []byte, relPath string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: "a/" + relPath,
		ToFile:   "b/" + relPath,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("compute diff: %w", err)
	}
	return text, nil
}
