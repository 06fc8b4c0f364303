package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/aigate-dev/aigate/internal/json"
)

// manifestName is the per-directory bookkeeping file distinguishing synced
// credentials from local-only ones.
const manifestName = ".aigate-manifest.json"

// manifest records which files in the credential directory came from the
// remote store. A file that disappears from the remote is deleted locally
// only when the manifest says the remote put it there; anything the operator
// dropped in by hand survives every sync.
type manifest struct {
	LastSync time.Time           `json:"last_sync"`
	Files    map[string]fileMark `json:"files"`
}

type fileMark struct {
	Checksum string    `json:"checksum"`
	SyncedAt time.Time `json:"synced_at"`
}

func loadManifest(dir string) *manifest {
	m := &manifest{Files: make(map[string]fileMark)}
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return m
	}
	// A corrupt manifest degrades to a full re-sync, never a failure.
	if err := json.Unmarshal(data, m); err != nil || m.Files == nil {
		return &manifest{Files: make(map[string]fileMark)}
	}
	return m
}

func (m *manifest) save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, manifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (m *manifest) mark(name string, content []byte) {
	m.Files[name] = fileMark{Checksum: checksum(content), SyncedAt: time.Now()}
}

// orphans lists files the remote managed before but no longer serves.
func (m *manifest) orphans(remote map[string][]byte) []string {
	var gone []string
	for name := range m.Files {
		if _, ok := remote[name]; !ok {
			gone = append(gone, name)
		}
	}
	return gone
}

// checksum is a truncated SHA-256, enough to detect content drift.
func checksum(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
