package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf16"
)

func TestGetUpdates_ParsesTextAndPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getUpdates" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("offset") != "7" {
			t.Errorf("unexpected offset: %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"chat":{"id":123},"text":"hello","date":1700000000}},
			{"update_id":8,"message":{"message_id":2,"chat":{"id":123},"caption":"\\edit neon","photo":[{"file_id":"small","width":90,"height":90},{"file_id":"big","width":1280,"height":1280}],"date":1700000001}}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	updates, err := c.GetUpdates(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	if updates[0].Message.Text == nil || *updates[0].Message.Text != "hello" {
		t.Fatalf("unexpected text: %#v", updates[0].Message)
	}
	photo, ok := updates[1].Message.LargestPhoto()
	if !ok || photo.FileID != "big" {
		t.Fatalf("expected largest photo, got %#v", photo)
	}
	if updates[1].Message.Caption == nil || *updates[1].Message.Caption != `\edit neon` {
		t.Fatalf("unexpected caption: %#v", updates[1].Message.Caption)
	}
}

func TestGetUpdates_NotOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 2*time.Second)
	_, err := c.GetUpdates(context.Background(), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestSendMessage_SplitsLongText(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 2*time.Second)
	long := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
	if err := c.SendMessage(context.Background(), 123, long); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(bodies))
	}
	if strings.Contains(bodies[0], "b") || !strings.Contains(bodies[1], "bbb") {
		t.Fatalf("expected split at line break")
	}
}

func TestSendMarkdown_FallsBackToPlain(t *testing.T) {
	var modes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"parse_mode":"Markdown"`) {
			modes = append(modes, "markdown")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
			return
		}
		modes = append(modes, "plain")
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 2*time.Second)
	if err := c.SendMarkdown(context.Background(), 1, "*broken"); err != nil {
		t.Fatalf("SendMarkdown failed: %v", err)
	}
	if strings.Join(modes, ",") != "markdown,plain" {
		t.Fatalf("unexpected send sequence: %v", modes)
	}
}

func TestSendPhoto_Multipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendPhoto" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("chat_id") != "123" || r.FormValue("caption") != "🖼️ cat" {
			t.Errorf("unexpected fields: %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("missing photo: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if string(data) != "png" {
				t.Errorf("unexpected photo bytes: %q", data)
			}
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, 2*time.Second)
	if err := c.SendPhoto(context.Background(), 123, []byte("png"), "🖼️ cat"); err != nil {
		t.Fatalf("SendPhoto failed: %v", err)
	}
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot/getFile":
			if r.URL.Query().Get("file_id") != "big" {
				t.Errorf("unexpected file id: %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"big","file_path":"photos/file_1.jpg"}}`)
		case "/file/photos/file_1.jpg":
			_, _ = io.WriteString(w, "jpeg-bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/bot", srv.URL+"/file", 2*time.Second)
	data, err := c.DownloadFile(context.Background(), "big")
	if err != nil {
		t.Fatalf("DownloadFile failed: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split: %#v", got)
	}
	got := splitMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 || got[2] != "xxxxx" {
		t.Fatalf("unexpected hard split: %#v", got)
	}
}

func TestSplitMessage_CountsUTF16Units(t *testing.T) {
	// Each emoji is one rune but two UTF-16 code units.
	text := strings.Repeat("📈 up\n", 1000) + strings.Repeat("🚀", 3000)
	chunks := splitMessage(text, maxMessageChars)
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %d chunk", len(chunks))
	}
	for i, c := range chunks {
		if n := len(utf16.Encode([]rune(c))); n > maxMessageChars {
			t.Fatalf("chunk %d is %d UTF-16 units, limit %d", i, n, maxMessageChars)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not rejoin to the original text")
	}
}

func TestTruncate_CountsUTF16Units(t *testing.T) {
	got := truncate(strings.Repeat("🚀", 10), 5)
	if got != "🚀🚀" {
		t.Fatalf("truncate=%q want two rockets", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate=%q", got)
	}
}
