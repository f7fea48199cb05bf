// Package storage keeps the audio artifacts exchanged with users.
//
// Artifacts are addressed by forward-slash paths relative to the store root,
// such as "received/<uuid>.ogg" or "sent/response-<uuid>.mp3". Each store
// can turn a path into a locator, the string the gateway hands to the chat
// platform to fetch the artifact: an absolute file path for Local, an
// object URL for S3.
package storage

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Store persists artifacts. Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data at p, replacing any existing artifact, and returns
	// its locator.
	Put(ctx context.Context, p, contentType string, data []byte) (string, error)

	// Exists reports whether an artifact is stored at p.
	Exists(ctx context.Context, p string) (bool, error)

	// Locate returns the locator for p without touching the backend.
	Locate(p string) string
}

// Artifact directories.
const (
	ReceivedDir = "received"
	SentDir     = "sent"
)

// checkPath is looked up by Check and never written.
const checkPath = ".chatrelay-check"

// Check verifies that the backend answers with the configured credentials.
// A missing bucket or a denied request fails here instead of on the first
// voice note.
func Check(ctx context.Context, s Store) error {
	if _, err := s.Exists(ctx, checkPath); err != nil {
		return fmt.Errorf("storage: check: %w", err)
	}
	return nil
}

// ReceivedPath returns a fresh path for an inbound artifact with the given
// extension (with or without the leading dot).
func ReceivedPath(ext string) string {
	return path.Join(ReceivedDir, uuid.NewString()+dotExt(ext))
}

// SentPath returns a fresh path for an outbound response artifact.
func SentPath(ext string) string {
	return path.Join(SentDir, "response-"+uuid.NewString()+dotExt(ext))
}

func dotExt(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// cleanPath rejects paths that would escape the store root.
func cleanPath(p string) (string, error) {
	if slices.Contains(strings.Split(p, "/"), "..") {
		return "", fmt.Errorf("storage: invalid path %q", p)
	}
	c := strings.TrimPrefix(path.Clean("/"+p), "/")
	if c == "" {
		return "", fmt.Errorf("storage: empty path")
	}
	return c, nil
}
