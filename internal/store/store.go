// Package store persists conversation state as a single versioned JSON
// document.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
)

// CurrentVersion is the schema version written by Save.
const CurrentVersion = 1

// LegacyConversationID is the bucket that receives messages migrated from
// the old flat-array file format.
const LegacyConversationID = "default"

// Task is one entry of a conversation's to-do list.
type Task struct {
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is the persisted state of one chat.
type Conversation struct {
	Messages []ctxpkg.Message `json:"messages"`
	Tasks    []Task           `json:"tasks"`
}

// Document is the whole store file.
type Document struct {
	Version int                      `json:"version"`
	Chats   map[string]*Conversation `json:"chats"`
}

// NewDocument returns an empty store at the current version.
func NewDocument() *Document {
	return &Document{Version: CurrentVersion, Chats: map[string]*Conversation{}}
}

// GetOrCreate returns the conversation registered under id, creating an
// empty one on first reference.
func (d *Document) GetOrCreate(id string) *Conversation {
	if d.Chats == nil {
		d.Chats = map[string]*Conversation{}
	}
	conv, ok := d.Chats[id]
	if !ok || conv == nil {
		conv = &Conversation{Messages: []ctxpkg.Message{}, Tasks: []Task{}}
		d.Chats[id] = conv
	}
	return conv
}

func (d *Document) normalize() {
	if d.Version < 1 {
		d.Version = CurrentVersion
	}
	if d.Chats == nil {
		d.Chats = map[string]*Conversation{}
	}
	for id, conv := range d.Chats {
		if conv == nil {
			conv = &Conversation{}
			d.Chats[id] = conv
		}
		if conv.Messages == nil {
			conv.Messages = []ctxpkg.Message{}
		}
		if conv.Tasks == nil {
			conv.Tasks = []Task{}
		}
	}
}

// File is a Document persisted at a path. Writes are serialized by a single
// process-wide mutex.
type File struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// Open returns a File for path. The file itself is created lazily by Save.
func Open(path string, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: path, logger: logger.Named("store")}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Load reads the store. A missing or empty file yields an empty store.
// Unparsable content is replaced on disk by an empty store, which is
// returned; only I/O failures are reported as errors.
func (f *File) Load() (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Save writes the full store in one write.
func (f *File) Save(doc *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(doc)
}

// Update loads the store, applies fn and saves the result while holding the
// write mutex, so concurrent conversations never lose each other's writes.
// Nothing is saved when fn returns an error.
func (f *File) Update(fn func(*Document) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return f.save(doc)
}

func (f *File) load() (*Document, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read store %s: %w", f.path, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return NewDocument(), nil
	}

	doc, err := decode(raw)
	if err != nil {
		f.logger.Warn("store file corrupt, resetting to empty store",
			zap.String("path", f.path),
			zap.Error(err),
		)
		doc = NewDocument()
		if saveErr := f.save(doc); saveErr != nil {
			f.logger.Error("rewrite corrupt store failed", zap.String("path", f.path), zap.Error(saveErr))
		}
		return doc, nil
	}
	return doc, nil
}

func decode(raw []byte) (*Document, error) {
	if raw[0] == '[' {
		var legacy []ctxpkg.Message
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("decode legacy store: %w", err)
		}
		doc := NewDocument()
		conv := doc.GetOrCreate(LegacyConversationID)
		conv.Messages = append(conv.Messages, legacy...)
		return doc, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	doc.normalize()
	return &doc, nil
}

func (f *File) save(doc *Document) error {
	if doc == nil {
		doc = NewDocument()
	}
	doc.normalize()
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	if err := os.WriteFile(f.path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write store %s: %w", f.path, err)
	}
	return nil
}
