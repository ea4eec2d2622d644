package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	cmdpkg "github.com/gilbert2046/telegram-digest-bot/internal/commander"
)

const (
	maxMessageChars = 3900
	maxCaptionChars = 1000
	maxDownloadSize = 20 << 20
)

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	fileBase   string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>") and file base URL
// (e.g. "https://api.telegram.org/file/bot<token>").
func NewClient(apiBase, fileBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase:  apiBase,
		fileBase: fileBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is an ok=false answer from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed code=%d: %s", e.Method, e.Code, e.Description)
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

// GetUpdates calls the getUpdates API.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message"]`)

	var updates []Update
	if err := c.get(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends plain text, split into several messages when it exceeds
// the Telegram length limit.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.sendChunks(ctx, chatID, text, "")
}

// SendMarkdown sends text with Markdown parse mode. Chunks Telegram refuses
// to parse are resent as plain text.
func (c *Client) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	return c.sendChunks(ctx, chatID, text, "Markdown")
}

func (c *Client) sendChunks(ctx context.Context, chatID int64, text, parseMode string) error {
	for _, chunk := range splitMessage(text, maxMessageChars) {
		err := c.sendMessage(ctx, chatID, chunk, parseMode)
		var apiErr *APIError
		if parseMode != "" && errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			err = c.sendMessage(ctx, chatID, chunk, "")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	payload := fmt.Sprintf(`{"chat_id":%d,"text":%s`, chatID, jsonString(text))
	if parseMode != "" {
		payload += fmt.Sprintf(`,"parse_mode":%s`, jsonString(parseMode))
	}
	payload += "}"
	return c.post(ctx, "sendMessage", "application/json", strings.NewReader(payload), nil)
}

// SendPhoto uploads image bytes with a caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := w.WriteField("caption", truncate(caption, maxCaptionChars)); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("photo", "image.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.post(ctx, "sendPhoto", w.FormDataContentType(), &body, nil)
}

// DownloadFile resolves fileID with getFile and downloads its content.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	params := url.Values{}
	params.Set("file_id", fileID)
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.get(ctx, "getFile", params, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile returned no file_path for %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileBase+"/"+file.FilePath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram file download status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read telegram file: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("telegram file %s exceeds %d bytes", fileID, maxDownloadSize)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, method, out)
}

func (c *Client) post(ctx context.Context, method, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return fmt.Errorf("failed to parse %s response (status=%d): %w", method, resp.StatusCode, err)
	}
	if !tgResp.OK {
		code := tgResp.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: tgResp.Description}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(tgResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

// splitMessage cuts text into chunks of at most maxUnits UTF-16 code
// units, the unit Telegram counts message length in. Line breaks in the
// second half of a chunk are preferred as cut points.
func splitMessage(text string, maxUnits int) []string {
	runes := []rune(text)
	if utf16Len(runes) <= maxUnits {
		return []string{text}
	}
	var chunks []string
	for utf16Len(runes) > maxUnits {
		fit := fitUTF16(runes, maxUnits)
		cut := fit
		for i := fit; i > fit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// truncate keeps the longest prefix of s that fits in maxUnits UTF-16 code units.
func truncate(s string, maxUnits int) string {
	runes := []rune(s)
	return string(runes[:fitUTF16(runes, maxUnits)])
}

func utf16Len(runes []rune) int {
	n := 0
	for _, r := range runes {
		n += utf16RuneLen(r)
	}
	return n
}

// fitUTF16 returns how many leading runes fit in maxUnits, never fewer than
// one so a split always makes progress.
func fitUTF16(runes []rune, maxUnits int) int {
	units := 0
	for i, r := range runes {
		units += utf16RuneLen(r)
		if units > maxUnits {
			if i == 0 {
				return 1
			}
			return i
		}
	}
	return len(runes)
}

func utf16RuneLen(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
