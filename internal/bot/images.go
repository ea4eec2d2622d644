package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	cmdpkg "github.com/gilbert2046/telegram-digest-bot/internal/commander"
	"github.com/gilbert2046/telegram-digest-bot/internal/db"
	"github.com/gilbert2046/telegram-digest-bot/internal/imagecache"
	"github.com/gilbert2046/telegram-digest-bot/internal/openai"
)

const (
	msgPhotoReceived  = `收到图片啦 ✅ 现在发：\edit 你的修改要求（例如：\edit 改成赛博朋克海报风格）`
	msgPhotoFailed    = "⚠️ 图片下载失败（可能是网络问题），再发一次试试。"
	msgEditUsage      = `用法：\edit 把它改成赛博朋克海报风格（先发图片）`
	msgNoImage        = `我还没收到你要编辑的图片～先发一张图，再发 \edit 指令。`
	msgImageExpired   = "那张图有点久了（超过5分钟）。重新发一次图片吧。"
	msgEditing        = "🎨 正在根据你的图片 + 指令生成新图…"
	msgEditNoData     = "⚠️ 编辑失败：没有返回图片数据。"
	msgGenerating     = "🎨 正在生成图片…"
	msgGenerateUsage  = "用法：/img 一只穿西装的猫在巴黎街头"
	msgGenerateNoData = "⚠️ 图片生成失败：没有返回图像数据。"
	msgNoKeyEdit      = "⚠️ 缺少 OPENAI_API_KEY，无法编辑图片。"
	msgNoKeyGenerate  = "⚠️ 缺少 OPENAI_API_KEY，无法生成图片。"
)

// handlePhoto saves the largest size of an uploaded photo and caches it for
// the chat. A caption starting with \edit runs the edit right away.
func (r *request) handlePhoto(ctx context.Context, msg *cmdpkg.Message) error {
	photo, _ := msg.LargestPhoto()
	path, err := r.savePhoto(ctx, photo.FileID)
	if err != nil {
		r.Logger.Warn("photo download failed", zap.Int64("chat_id", r.chatID), zap.Error(err))
		return r.fail(ctx, msgPhotoFailed, err)
	}
	r.Images.Put(r.conversationID(), path)
	r.events(db.EventImageCached, map[string]any{"chat_id": r.chatID, "path": path})

	caption := ""
	if msg.Caption != nil {
		caption = strings.TrimSpace(*msg.Caption)
	}
	if cmd, ok := parseCommand(caption); ok && cmd.name == cmdEdit && strings.HasPrefix(caption, editPrefix) {
		return r.edit(ctx, cmd.arg)
	}
	return r.reply(ctx, msgPhotoReceived)
}

func (r *request) savePhoto(ctx context.Context, fileID string) (string, error) {
	data, err := r.Commander.DownloadFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.ImageDir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(r.ImageDir, fmt.Sprintf("tg_%d_%d.jpg", r.chatID, r.now().UnixMilli()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

func (r *request) edit(ctx context.Context, prompt string) error {
	if r.Imager == nil || !r.Imager.Configured() {
		return r.reply(ctx, msgNoKeyEdit)
	}
	if prompt == "" {
		return r.reply(ctx, msgEditUsage)
	}
	path, err := r.Images.Take(r.conversationID())
	switch {
	case errors.Is(err, imagecache.ErrNoImage):
		return r.reply(ctx, msgNoImage)
	case errors.Is(err, imagecache.ErrImageExpired):
		return r.reply(ctx, msgImageExpired)
	}

	if err := r.reply(ctx, msgEditing); err != nil {
		return err
	}
	img, err := r.Imager.EditImage(ctx, path, prompt)
	if errors.Is(err, openai.ErrNoImageData) {
		return r.reply(ctx, msgEditNoData)
	}
	if err != nil {
		r.Logger.Warn("image edit failed", zap.Int64("chat_id", r.chatID), zap.Error(err))
		return r.fail(ctx, fmt.Sprintf("⚠️ 图片编辑出错：%v", err), err)
	}
	return r.sendImage(ctx, img, prompt)
}

func (r *request) generate(ctx context.Context, prompt string) error {
	if r.Imager == nil || !r.Imager.Configured() {
		return r.reply(ctx, msgNoKeyGenerate)
	}
	if prompt == "" {
		return r.reply(ctx, msgGenerateUsage)
	}
	if err := r.reply(ctx, msgGenerating); err != nil {
		return err
	}
	img, err := r.Imager.GenerateImage(ctx, prompt)
	if errors.Is(err, openai.ErrNoImageData) {
		return r.reply(ctx, msgGenerateNoData)
	}
	if err != nil {
		r.Logger.Warn("image generate failed", zap.Int64("chat_id", r.chatID), zap.Error(err))
		return r.fail(ctx, fmt.Sprintf("⚠️ 图片生成出错：%v", err), err)
	}
	return r.sendImage(ctx, img, prompt)
}

func (r *request) sendImage(ctx context.Context, img []byte, prompt string) error {
	if err := r.Commander.SendPhoto(ctx, r.chatID, img, "🖼️ "+prompt); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	r.events(db.EventReplySent, map[string]any{"chat_id": r.chatID, "photo_bytes": len(img)})
	return nil
}
