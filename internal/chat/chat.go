// Package chat runs conversation turns: it records history, composes the
// prompt, calls the model gateway and persists the reply.
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	ctxpkg "github.com/gilbert2046/telegram-digest-bot/internal/context"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
	"github.com/gilbert2046/telegram-digest-bot/internal/store"
)

// Default completion settings for chat turns.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
	DefaultWindow      = 12
)

// Persona supplies and updates the system prompt text.
type Persona interface {
	Load() string
	Update(text string) error
}

// Config tunes a Service.
type Config struct {
	Window      int
	Temperature float64
	MaxTokens   int
}

// Service owns conversation state mutations. At most one mutation per
// conversation runs at a time; different conversations proceed in parallel.
type Service struct {
	store      *store.File
	persona    Persona
	llm        model.Completer
	compressor ctxpkg.Compressor
	assembler  ctxpkg.Assembler
	cfg        Config
	locks      *keyedMutex
	now        func() time.Time
	logger     *zap.Logger
}

// NewService wires the orchestrator. Zero Config fields take defaults.
func NewService(st *store.File, p Persona, llm model.Completer, cfg Config, logger *zap.Logger) *Service {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      st,
		persona:    p,
		llm:        llm,
		compressor: &ctxpkg.WindowCompressor{MaxMessages: cfg.Window},
		assembler:  &ctxpkg.PromptAssembler{},
		cfg:        cfg,
		locks:      newKeyedMutex(),
		now:        time.Now,
		logger:     logger.Named("chat"),
	}
}

// HandleUserTurn records text as a user turn, asks the model for a reply and
// records the reply. The user turn is saved before the model is called, so
// it survives a failed completion. An empty reply with a nil error means the
// model returned no content; nothing is appended in that case.
func (s *Service) HandleUserTurn(ctx context.Context, conversationID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var history []ctxpkg.Message
	err := s.store.Update(func(doc *store.Document) error {
		conv := doc.GetOrCreate(conversationID)
		conv.Messages = s.compressor.Compress(append(conv.Messages, ctxpkg.Message{Role: ctxpkg.RoleUser, Content: text}))
		history = append([]ctxpkg.Message(nil), conv.Messages...)
		return nil
	})
	if err != nil {
		return "", &TurnError{Kind: KindStorage, Err: err}
	}

	system, turns := s.assembler.Assemble(s.persona.Load(), history)
	reply, err := s.llm.Complete(ctx, model.Request{
		System:      system,
		Messages:    turns,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		kind := classify(err)
		s.logger.Warn("completion failed",
			zap.String("conversation", conversationID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return "", &TurnError{Kind: kind, Err: err}
	}
	if reply == "" {
		s.logger.Info("completion returned no content", zap.String("conversation", conversationID))
		return "", nil
	}

	err = s.store.Update(func(doc *store.Document) error {
		conv := doc.GetOrCreate(conversationID)
		conv.Messages = s.compressor.Compress(append(conv.Messages, ctxpkg.Message{Role: ctxpkg.RoleAssistant, Content: reply}))
		return nil
	})
	if err != nil {
		// The reply is still delivered; only its record is lost.
		s.logger.Error("persist reply failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	return reply, nil
}

// Remember stores note as a long-term system entry. Notes share the FIFO
// window with ordinary turns.
func (s *Service) Remember(conversationID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return ErrEmptyInput
	}
	return s.mutate(conversationID, func(conv *store.Conversation) error {
		conv.Messages = s.compressor.Compress(append(conv.Messages, ctxpkg.Message{Role: ctxpkg.RoleSystem, Content: note}))
		return nil
	})
}

// Forget clears the conversation history. Tasks are kept.
func (s *Service) Forget(conversationID string) error {
	return s.mutate(conversationID, func(conv *store.Conversation) error {
		conv.Messages = []ctxpkg.Message{}
		return nil
	})
}

// History returns a copy of the stored messages.
func (s *Service) History(conversationID string) ([]ctxpkg.Message, error) {
	conv, err := s.snapshot(conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// UpdatePersona replaces the process-wide persona.
func (s *Service) UpdatePersona(text string) error {
	return s.persona.Update(text)
}

// Persona returns the current persona text.
func (s *Service) Persona() string {
	return s.persona.Load()
}

func (s *Service) mutate(conversationID string, fn func(*store.Conversation) error) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	return s.store.Update(func(doc *store.Document) error {
		return fn(doc.GetOrCreate(conversationID))
	})
}

func (s *Service) snapshot(conversationID string) (store.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	doc, err := s.store.Load()
	if err != nil {
		return store.Conversation{}, err
	}
	conv, ok := doc.Chats[conversationID]
	if !ok {
		return store.Conversation{Messages: []ctxpkg.Message{}, Tasks: []store.Task{}}, nil
	}
	return store.Conversation{
		Messages: append([]ctxpkg.Message{}, conv.Messages...),
		Tasks:    append([]store.Task{}, conv.Tasks...),
	}, nil
}
