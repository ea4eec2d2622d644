package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sdk "github.com/openai/openai-go"
)

// ErrNoImageData means the API answered without an image payload.
var ErrNoImageData = errors.New("no image data returned")

// GenerateImage renders a 1024x1024 image for prompt and returns its bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	resp, err := c.sdk.Images.Generate(ctx, sdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  sdk.ImageModel(c.imageModel),
		Size:   sdk.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return nil, wrapError("image generate", err)
	}
	return decodeFirst(resp)
}

// EditImage applies prompt to the image stored at path.
func (c *Client) EditImage(ctx context.Context, path, prompt string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	resp, err := c.sdk.Images.Edit(ctx, sdk.ImageEditParams{
		Image:  sdk.ImageEditParamsImageUnion{OfFile: sdk.File(f, filepath.Base(path), contentType(path))},
		Prompt: prompt,
		Model:  sdk.ImageModel(c.imageModel),
		Size:   sdk.ImageEditParamsSize1024x1024,
	})
	if err != nil {
		return nil, wrapError("image edit", err)
	}
	return decodeFirst(resp)
}

func decodeFirst(resp *sdk.ImagesResponse) ([]byte, error) {
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, ErrNoImageData
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return raw, nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
