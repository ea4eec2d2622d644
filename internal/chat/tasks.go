package chat

import (
	"strings"

	"github.com/gilbert2046/telegram-digest-bot/internal/store"
)

// AddTask appends a task and returns its 1-based number.
func (s *Service) AddTask(conversationID, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmptyInput
	}
	var n int
	err := s.mutate(conversationID, func(conv *store.Conversation) error {
		conv.Tasks = append(conv.Tasks, store.Task{Text: text, CreatedAt: s.now().UTC()})
		n = len(conv.Tasks)
		return nil
	})
	return n, err
}

// ListTasks returns the conversation's tasks in creation order.
func (s *Service) ListTasks(conversationID string) ([]store.Task, error) {
	conv, err := s.snapshot(conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Tasks, nil
}

// CompleteTask marks the 1-based task n as done.
func (s *Service) CompleteTask(conversationID string, n int) (store.Task, error) {
	var done store.Task
	err := s.mutate(conversationID, func(conv *store.Conversation) error {
		if n < 1 || n > len(conv.Tasks) {
			return ErrNoSuchTask
		}
		conv.Tasks[n-1].Done = true
		done = conv.Tasks[n-1]
		return nil
	})
	return done, err
}

// ClearTasks empties the task list.
func (s *Service) ClearTasks(conversationID string) error {
	return s.mutate(conversationID, func(conv *store.Conversation) error {
		conv.Tasks = []store.Task{}
		return nil
	})
}
