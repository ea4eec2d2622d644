// Package persona owns the process-wide system prompt text.
package persona

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultText is used while no persona file exists.
const DefaultText = "你是一个有帮助的 AI 助手。"

// ErrEmptyPersona rejects blank updates.
var ErrEmptyPersona = errors.New("persona text is empty")

// Provider serves the persona from an in-memory copy of a text file.
type Provider struct {
	path   string
	logger *zap.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	text    string
}

// New reads path once. A missing or blank file falls back to DefaultText.
func New(path string, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{path: path, logger: logger.Named("persona")}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load returns the current persona.
func (p *Provider) Load() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text
}

// Update overwrites the persona file synchronously and refreshes the cached
// text. Blank text is rejected with ErrEmptyPersona.
func (p *Provider) Update(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPersona
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create persona dir: %w", err)
		}
	}
	if err := os.WriteFile(p.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write persona %s: %w", p.path, err)
	}
	p.set(text)
	return nil
}

// Watch reloads the persona whenever the file is written by another
// process. It blocks until ctx is done.
func (p *Provider) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("persona watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(p.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := p.reload(); err != nil {
				p.logger.Warn("persona reload failed", zap.Error(err))
				continue
			}
			p.logger.Info("persona reloaded", zap.String("op", ev.Op.String()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("persona watcher error", zap.Error(err))
		}
	}
}

func (p *Provider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.set(DefaultText)
			return nil
		}
		return fmt.Errorf("read persona %s: %w", p.path, err)
	}
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		text = DefaultText
	}
	p.set(text)
	return nil
}

func (p *Provider) set(text string) {
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
}
