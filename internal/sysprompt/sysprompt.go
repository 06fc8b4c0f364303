// Package sysprompt manages the two system-prompt side channels of the
// gateway: injecting a configured prompt file into outbound requests and
// mirroring the system text of inbound requests to an advisory file on disk.
package sysprompt

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aigate-dev/aigate/internal/config"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/util"
)

// Manager caches the injection file content and serializes mirror writes.
// Both behaviors are best-effort: a missing or unreadable injection file
// disables injection for that request, and mirror I/O errors are logged
// without failing the request.
type Manager struct {
	injectPath string
	mode       config.PromptInjectMode
	mirrorPath string

	mu      sync.RWMutex
	content string
	watched bool

	watcher *fsnotify.Watcher
	done    chan struct{}

	// mirrorMu enforces the single-writer discipline on the mirror file.
	mirrorMu   sync.Mutex
	lastMirror string
	mirrorSet  bool
}

// NewManager builds a manager from the startup configuration. Call Start to
// begin watching the injection file.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		mode: cfg.SystemPromptMode,
		done: make(chan struct{}),
	}
	if cfg.SystemPromptFile != "" {
		p, err := util.ExpandHome(cfg.SystemPromptFile)
		if err != nil {
			return nil, err
		}
		m.injectPath = p
	}
	if cfg.SystemPromptMirrorFile != "" {
		p, err := util.ExpandHome(cfg.SystemPromptMirrorFile)
		if err != nil {
			return nil, err
		}
		m.mirrorPath = p
	}
	return m, nil
}

// Start primes the injection cache and begins watching the injection file
// for changes. A watch failure is downgraded to per-request direct reads.
func (m *Manager) Start() {
	if m.mirrorPath != "" {
		if data, err := os.ReadFile(m.mirrorPath); err == nil {
			m.lastMirror = string(data)
			m.mirrorSet = true
		}
	}
	if m.injectPath == "" {
		return
	}

	m.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("system prompt: file watch unavailable, reading per request")
		return
	}
	// Watch the parent directory: editors that save via rename replace the
	// inode, which silently drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(m.injectPath)); err != nil {
		log.WithError(err).Warnf("system prompt: cannot watch %s, reading per request", m.injectPath)
		watcher.Close()
		return
	}

	m.watcher = watcher
	m.mu.Lock()
	m.watched = true
	m.mu.Unlock()

	go m.watchLoop()
	log.Debugf("system prompt: watching %s (%s mode)", m.injectPath, m.mode)
}

// Close stops the watcher. Safe to call when Start never ran.
func (m *Manager) Close() {
	if m.watcher == nil {
		return
	}
	close(m.done)
	m.watcher.Close()
}

func (m *Manager) watchLoop() {
	target := filepath.Clean(m.injectPath)
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				m.reload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("system prompt: watch error, falling back to direct reads")
			m.mu.Lock()
			m.watched = false
			m.mu.Unlock()
		}
	}
}

func (m *Manager) reload() {
	data, err := os.ReadFile(m.injectPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("system prompt: read %s", m.injectPath)
		}
		data = nil
	}
	m.mu.Lock()
	m.content = string(data)
	m.mu.Unlock()
}

// Content returns the current injection file content. When the watch is
// healthy this is the cached copy; otherwise the file is read directly.
func (m *Manager) Content() string {
	if m.injectPath == "" {
		return ""
	}
	m.mu.RLock()
	content, watched := m.content, m.watched
	m.mu.RUnlock()
	if watched {
		return content
	}
	data, err := os.ReadFile(m.injectPath)
	if err != nil {
		return ""
	}
	return string(data)
}

// Mode reports how injected content combines with the request's own system
// text.
func (m *Manager) Mode() config.PromptInjectMode { return m.mode }

// Apply merges the injection file content with the system text a request
// already carries. The second return is false when injection is inactive
// (no file configured, or the file is empty) and the text is unchanged.
func (m *Manager) Apply(existing string) (string, bool) {
	content := strings.TrimSpace(m.Content())
	if content == "" {
		return existing, false
	}
	if m.mode == config.PromptInjectAppend && strings.TrimSpace(existing) != "" {
		return existing + "\n" + content, true
	}
	return content, true
}

// Mirror records the system text of a request into the mirror file,
// rewriting it atomically when the text changed and clearing it when the
// request carries none. Errors are logged, never returned.
func (m *Manager) Mirror(system string) {
	if m.mirrorPath == "" {
		return
	}
	m.mirrorMu.Lock()
	defer m.mirrorMu.Unlock()

	if m.mirrorSet && m.lastMirror == system {
		return
	}
	if err := util.WriteFileAtomic(m.mirrorPath, []byte(system), 0o644); err != nil {
		log.WithError(err).Warnf("system prompt: mirror %s", m.mirrorPath)
		return
	}
	m.lastMirror = system
	m.mirrorSet = true
}
