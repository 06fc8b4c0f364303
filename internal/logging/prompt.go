package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PromptMode selects where inbound prompts and outbound answers are recorded.
type PromptMode string

const (
	PromptModeNone    PromptMode = "none"
	PromptModeConsole PromptMode = "console"
	PromptModeFile    PromptMode = "file"
)

// PromptLogger records prompt and response text per request. File mode opens
// one dated log per process: <base>-YYYYMMDD-hhmmss.log.
type PromptLogger struct {
	mode PromptMode

	mu   sync.Mutex
	file *os.File
	path string
}

// NewPromptLogger creates a logger for the given mode. In file mode the dated
// log file is created eagerly so a bad path fails at startup, not mid-request.
func NewPromptLogger(mode PromptMode, baseName string) (*PromptLogger, error) {
	p := &PromptLogger{mode: mode}
	if mode != PromptModeFile {
		return p, nil
	}
	if baseName == "" {
		baseName = "prompt_log"
	}
	p.path = fmt.Sprintf("%s-%s.log", baseName, time.Now().Format("20060102-150405"))
	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prompt log dir: %w", err)
		}
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open prompt log: %w", err)
	}
	p.file = f
	return p, nil
}

// Path returns the dated log file path, empty unless file mode.
func (p *PromptLogger) Path() string { return p.path }

// LogPrompt records the inbound prompt text for one request.
func (p *PromptLogger) LogPrompt(provider, model, text string) {
	p.write("PROMPT", provider, model, text)
}

// LogResponse records the outbound response text for one request.
func (p *PromptLogger) LogResponse(provider, model, text string) {
	p.write("RESPONSE", provider, model, text)
}

func (p *PromptLogger) write(kind, provider, model, text string) {
	if p == nil || text == "" {
		return
	}
	switch p.mode {
	case PromptModeConsole:
		Infof("[%s] provider=%s model=%s\n%s", kind, provider, model, text)
	case PromptModeFile:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.file == nil {
			return
		}
		line := fmt.Sprintf("[%s] %s provider=%s model=%s\n%s\n\n",
			time.Now().Format(time.RFC3339), kind, provider, model, text)
		if _, err := p.file.WriteString(line); err != nil {
			Warnf("prompt log write failed: %v", err)
		}
	}
}

// Close releases the file handle in file mode.
func (p *PromptLogger) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
