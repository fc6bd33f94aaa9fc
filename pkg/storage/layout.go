// Package storage maps file records to their on-disk location and
// performs the byte-level operations behind uploads, downloads,
// visibility changes, and deletes.
//
// The location of a file is a pure function of its tier, owner,
// recipient, and name:
//
//	public  -> <root>/public/<name>
//	shared  -> <root>/shared/<recipient>/<name>
//	private -> <root>/private/<owner>/<name>
//
// The same function is applied on upload, download, and move, so
// metadata and bytes cannot drift apart.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ferryfs/ferry/pkg/protocol"
)

// ErrUnsafeName is returned for filenames that reduce to an empty or
// reserved base name, or whose resolved path would escape the tier root.
var ErrUnsafeName = errors.New("unsafe file name")

// Layout resolves tier paths under a single storage root.
type Layout struct {
	root string
}

// NewLayout creates the three tier directories under root and returns a
// Layout rooted there.
func NewLayout(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	for _, tier := range []protocol.Tier{protocol.TierPrivate, protocol.TierShared, protocol.TierPublic} {
		if err := os.MkdirAll(filepath.Join(abs, string(tier)), 0755); err != nil {
			return nil, fmt.Errorf("create %s tier directory: %w", tier, err)
		}
	}
	return &Layout{root: abs}, nil
}

// Root returns the absolute storage root.
func (l *Layout) Root() string { return l.root }

// SafeName reduces a client-supplied filename to its base name, stripping
// any directory components. This is the first half of the path-traversal
// defense; FilePath's containment check is the second.
func SafeName(name string) (string, error) {
	// Client and server may disagree on path separators; strip both.
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return base, nil
}

// FilePath resolves the on-disk path for a file in the given tier. The
// owner and recipient usernames namespace the private and shared tiers.
// The resolved path is verified to remain inside the storage root.
func (l *Layout) FilePath(tier protocol.Tier, owner, recipient, name string) (string, error) {
	base, err := SafeName(name)
	if err != nil {
		return "", err
	}

	var path string
	switch tier {
	case protocol.TierPublic:
		path = filepath.Join(l.root, "public", base)
	case protocol.TierShared:
		if recipient == "" {
			return "", fmt.Errorf("shared tier requires a recipient")
		}
		path = filepath.Join(l.root, "shared", recipient, base)
	case protocol.TierPrivate:
		if owner == "" {
			return "", fmt.Errorf("private tier requires an owner")
		}
		path = filepath.Join(l.root, "private", owner, base)
	default:
		return "", fmt.Errorf("unknown tier: %s", tier)
	}

	// Usernames come from the metadata store, not the wire, but verify
	// containment anyway: no resolved path may leave the storage root.
	cleaned := filepath.Clean(path)
	if !strings.HasPrefix(cleaned, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q resolves outside storage root", ErrUnsafeName, name)
	}
	return cleaned, nil
}

// Create opens the destination for an incoming upload, creating parent
// directories as needed and truncating any previous content.
func (l *Layout) Create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	return f, nil
}

// Open opens a stored file for download and returns its current size.
func (l *Layout) Open(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return f, info.Size(), nil
}

// Move relocates a file between tier paths, creating the destination
// directory first. A cross-device rename falls back to copy and remove.
func (l *Layout) Move(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy bytes: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("flush destination: %w", err)
	}
	return os.Remove(src)
}

// Remove deletes the backing bytes. A missing file is not an error: the
// metadata row is the source of truth and may already be gone.
func (l *Layout) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
