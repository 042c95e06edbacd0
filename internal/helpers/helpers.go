package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// BytesToSize formats a byte count as a human-readable string using
// 1024-based units with two decimal places, e.g. "1.50 KB".
func BytesToSize(bytes uint64) string {
	size := float64(bytes)
	for _, unit := range sizeUnits[:len(sizeUnits)-1] {
		if size < 1024.0 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024.0
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[len(sizeUnits)-1])
}

// SanitizePath cleans a path and strips any leading traversal or root
// segments so it can be safely joined under a base directory.
func SanitizePath(path string) string {
	cleaned := filepath.Clean(path)
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	for strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		cleaned = strings.TrimPrefix(cleaned, ".."+string(filepath.Separator))
	}
	if cleaned == ".." {
		return ""
	}
	return cleaned
}

// CheckAndMakeDir ensures a directory exists, creating it (and parents) if
// needed. Returns false if the directory could not be created.
func CheckAndMakeDir(dir string) bool {
	safeDir := dir
	if !filepath.IsAbs(dir) {
		safeDir = SanitizePath(dir)
		if safeDir == "" {
			safeDir = "."
		}
	}
	if info, err := os.Stat(safeDir); err == nil {
		return info.IsDir()
	}
	if err := os.MkdirAll(safeDir, 0700); err != nil {
		log.WithError(err).Errorf("Failed to create directory %s", safeDir)
		return false
	}
	return true
}

// CounterWriter wraps an io.Writer and counts the bytes written through it.
type CounterWriter struct {
	Writer io.Writer
	Total  uint64
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// Blake3File returns the hex-encoded BLAKE3 hash of a file's contents.
func Blake3File(path string) (string, error) {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
