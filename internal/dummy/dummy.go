// Package dummy provides scripted stand-ins for the chat transport and the
// model provider, used by tests and offline runs.
//
// A script is a comma-separated list of actions consumed in order; the last
// action repeats once the script is exhausted:
//
//	ok            empty poll / default reply
//	err:<class>   error; a numeric class becomes an HTTP status
//	sleep:<ms>    wait, then behave like ok
//	msg:<text>    poll yields a text message / reply is text
//	msgb64:<b64>  like msg with base64 text
//	photo:<cap>   poll yields a photo message with caption
package dummy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/gilbert2046/telegram-digest-bot/internal/commander"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
)

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"err", "sleep", "msg", "msgb64", "photo"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		matched := false
		for _, kind := range actionKinds {
			if strings.HasPrefix(token, kind+":") {
				actions = append(actions, action{kind: kind, arg: strings.TrimPrefix(token, kind+":")})
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleepMillis(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sent is one outgoing message or photo recorded by Commander.
type Sent struct {
	ChatID  int64
	Text    string
	Photo   []byte
	Caption string
}

// Commander is a scripted chat transport.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	chatID   int64
	sent     []Sent
}

// NewCommander returns a transport whose polls follow pollScript and whose
// sends follow sendScript. Polled messages come from chat 1.
func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1, chatID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.poll.next()
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleepMillis(ctx, a.arg)
	case "msg", "msgb64":
		text, err := decodeArg(a)
		if err != nil {
			return nil, fmt.Errorf("dummy commander: %w", err)
		}
		return []cmdpkg.Update{c.nextUpdate(&cmdpkg.Message{Text: &text})}, nil
	case "photo":
		caption := a.arg
		msg := &cmdpkg.Message{
			Caption: &caption,
			Photo:   []cmdpkg.PhotoSize{{FileID: "dummy-small", Width: 90, Height: 90}, {FileID: "dummy-large", Width: 1024, Height: 1024}},
		}
		return []cmdpkg.Update{c.nextUpdate(msg)}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) nextUpdate(msg *cmdpkg.Message) cmdpkg.Update {
	c.updateID++
	msg.MessageID = c.updateID
	msg.Chat = cmdpkg.Chat{ID: c.chatID}
	msg.Date = time.Now().Unix()
	return cmdpkg.Update{UpdateID: c.updateID, Message: msg}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.record(ctx, Sent{ChatID: chatID, Text: text})
}

func (c *Commander) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	return c.record(ctx, Sent{ChatID: chatID, Photo: photo, Caption: caption})
}

// DownloadFile returns a fixed payload naming the file id.
func (c *Commander) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return []byte("dummy-image:" + fileID), nil
}

func (c *Commander) record(ctx context.Context, s Sent) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleepMillis(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, s)
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of everything sent so far.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Provider is a scripted model provider.
type Provider struct {
	mu       sync.Mutex
	script   *scriptRunner
	requests []model.Request
}

// NewProvider parses script into a provider.
func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

func (p *Provider) Name() string { return "dummy" }

func (p *Provider) Configured() bool { return true }

func (p *Provider) ChatCompletion(ctx context.Context, req model.Request) (model.CompletionResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	a := p.script.next()
	p.mu.Unlock()

	switch a.kind {
	case "err":
		class := emptyAs(a.arg, "provider_api")
		if code, err := strconv.Atoi(class); err == nil {
			return model.CompletionResponse{}, &model.StatusError{Provider: "dummy", StatusCode: code, Err: errors.New("dummy provider error")}
		}
		return model.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", class)
	case "sleep":
		if err := sleepMillis(ctx, a.arg); err != nil {
			return model.CompletionResponse{}, err
		}
		return model.CompletionResponse{Content: "dummy-after-sleep", InputTokens: 1, OutputTokens: 1}, nil
	case "msg", "msgb64":
		text, err := decodeArg(a)
		if err != nil {
			return model.CompletionResponse{}, fmt.Errorf("dummy provider: %w", err)
		}
		return model.CompletionResponse{Content: text, InputTokens: 1, OutputTokens: 1}, nil
	default:
		return model.CompletionResponse{Content: "dummy-ok", InputTokens: 1, OutputTokens: 1}, nil
	}
}

// Requests returns every request received so far.
func (p *Provider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.requests...)
}

func decodeArg(a action) (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
