package dummy

import (
	"context"
	"testing"

	"github.com/gilbert2046/telegram-digest-bot/internal/model"
)

func TestNewProvider_InvalidScript(t *testing.T) {
	_, err := NewProvider("boom")
	if err == nil {
		t.Fatal("expected parse error for invalid script")
	}
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("err:provider_api,err:429,msg:hello")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err = p.ChatCompletion(ctx, model.Request{}); err == nil {
		t.Fatal("expected first call to error")
	}
	if model.IsTransient(err) {
		t.Fatal("class errors are permanent")
	}

	_, err = p.ChatCompletion(ctx, model.Request{})
	if !model.IsTransient(err) {
		t.Fatalf("expected transient 429, got %v", err)
	}

	resp, err := p.ChatCompletion(ctx, model.Request{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected hello, got %q", resp.Content)
	}
	if len(p.Requests()) != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", len(p.Requests()))
	}
}

func TestProvider_MsgB64Action(t *testing.T) {
	p, err := NewProvider("msgb64:aGVsbG8=") // "hello"
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.ChatCompletion(context.Background(), model.Request{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected hello, got %q", resp.Content)
	}
}

func TestCommander_MsgAndPhotoActions(t *testing.T) {
	c, err := NewCommander("msg:test-msg,photo:\\edit neon", "ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	updates, err := c.GetUpdates(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text == nil {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	if *updates[0].Message.Text != "test-msg" {
		t.Fatalf("expected test-msg, got %q", *updates[0].Message.Text)
	}

	updates, err = c.GetUpdates(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	photo, ok := updates[0].Message.LargestPhoto()
	if !ok || photo.FileID != "dummy-large" {
		t.Fatalf("unexpected photo: %+v", updates[0].Message)
	}
	if *updates[0].Message.Caption != `\edit neon` {
		t.Fatalf("unexpected caption %q", *updates[0].Message.Caption)
	}
}

func TestCommander_RecordsSends(t *testing.T) {
	c, err := NewCommander("ok", "err:net,ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.SendMessage(ctx, 5, "first"); err == nil {
		t.Fatal("expected scripted send error")
	}
	if err := c.SendMessage(ctx, 5, "second"); err != nil {
		t.Fatal(err)
	}
	if err := c.SendPhoto(ctx, 5, []byte("img"), "cap"); err != nil {
		t.Fatal(err)
	}
	sent := c.Sent()
	if len(sent) != 2 || sent[0].Text != "second" || sent[1].Caption != "cap" {
		t.Fatalf("unexpected sent log: %+v", sent)
	}
}
