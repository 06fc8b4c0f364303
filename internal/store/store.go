// Package store syncs the credential directory from a remote location once
// at startup, before any adapter loads its tokens. Two remotes are
// supported: an S3-compatible bucket and a git repository. Sync is one-way
// (remote wins) and manifest-checked, so operator-added local files survive.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/util"
)

// Remote is one credential-store backend. Fetch returns every file the
// remote holds, keyed by name relative to the credential directory.
type Remote interface {
	Name() string
	Fetch(ctx context.Context) (map[string][]byte, error)
}

// New picks the backend for a store URL: s3://bucket[/prefix] for object
// storage, everything else is treated as a git clone URL.
func New(rawURL string) (Remote, error) {
	switch {
	case rawURL == "":
		return nil, fmt.Errorf("empty store url")
	case strings.HasPrefix(rawURL, "s3://"):
		return newObjectRemote(rawURL)
	case strings.HasPrefix(rawURL, "git://"),
		strings.HasPrefix(rawURL, "git@"),
		strings.HasSuffix(rawURL, ".git"),
		strings.HasPrefix(rawURL, "http://"),
		strings.HasPrefix(rawURL, "https://"),
		strings.HasPrefix(rawURL, "ssh://"):
		return newGitRemote(rawURL)
	}
	return nil, fmt.Errorf("unsupported store url %q", rawURL)
}

// Sync downloads the remote credential set into dir. Changed files are
// replaced atomically, unchanged ones left alone, and files the remote
// stopped serving are removed when a previous sync created them.
func Sync(ctx context.Context, rawURL, dir string) error {
	remote, err := New(rawURL)
	if err != nil {
		return err
	}
	files, err := remote.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch from %s: %w", remote.Name(), err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	applied, err := apply(dir, files)
	if err != nil {
		return err
	}
	log.Infof("credential store: synced %d file(s) from %s (%d changed)", len(files), remote.Name(), applied)
	return nil
}

// apply reconciles dir against the fetched remote set using the manifest
// and reports how many files actually changed on disk.
func apply(dir string, files map[string][]byte) (int, error) {
	m := loadManifest(dir)
	changed := 0

	for name, content := range files {
		if !safeName(name) {
			log.Warnf("credential store: skipping unsafe file name %q", name)
			continue
		}
		path := filepath.Join(dir, name)
		if mark, ok := m.Files[name]; ok && mark.Checksum == checksum(content) {
			if _, err := os.Stat(path); err == nil {
				continue
			}
		}
		if err := util.WriteFileAtomic(path, content, 0o600); err != nil {
			return changed, fmt.Errorf("write %s: %w", name, err)
		}
		m.mark(name, content)
		changed++
	}

	for _, name := range m.orphans(files) {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warnf("credential store: remove orphan %s", name)
			continue
		}
		delete(m.Files, name)
		changed++
	}

	m.LastSync = time.Now()
	if err := m.save(dir); err != nil {
		return changed, fmt.Errorf("save manifest: %w", err)
	}
	return changed, nil
}

// safeName rejects names that would escape the credential directory.
func safeName(name string) bool {
	if name == "" || name == manifestName {
		return false
	}
	clean := filepath.Clean(name)
	return !filepath.IsAbs(clean) && clean != ".." && !strings.HasPrefix(clean, "../")
}
