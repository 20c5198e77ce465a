package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/docrelay/pkg/chat"
)

// Download fetches the file behind ref into memory.
func (b *Bot) Download(ctx context.Context, ref chat.MediaRef) (chat.Attachment, error) {
	if ref.Ref == "" {
		return chat.Attachment{}, fmt.Errorf("empty media reference: %w", chat.ErrNotFound)
	}
	if ref.Size > MaxDownloadSize {
		return chat.Attachment{}, fmt.Errorf("file size %d exceeds maximum %d: %w", ref.Size, MaxDownloadSize, chat.ErrUnsupported)
	}

	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: ref.Ref})
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to get file info: %w", mapError(err))
	}
	if file.FileSize > MaxDownloadSize {
		return chat.Attachment{}, fmt.Errorf("file size %d exceeds maximum %d: %w", file.FileSize, MaxDownloadSize, chat.ErrUnsupported)
	}

	url := fmt.Sprintf(b.fileEndpoint, b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of the error.
		return chat.Attachment{}, fmt.Errorf("failed to download file %s: %w", ref.Ref, ctxOr(ctx, "transport failure"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return chat.Attachment{}, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize+1))
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > MaxDownloadSize {
		return chat.Attachment{}, fmt.Errorf("file exceeds maximum %d: %w", MaxDownloadSize, chat.ErrUnsupported)
	}

	name := ref.Filename
	if name == "" && file.FilePath != "" {
		name = path.Base(file.FilePath)
	}
	mime := ref.MimeType
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	b.logger.Debug().
		Str("file_id", ref.Ref).
		Int("size", len(data)).
		Str("mimetype", mime).
		Msg("File downloaded")

	return chat.Attachment{
		Filename: name,
		MimeType: mime,
		Data:     data,
	}, nil
}

func ctxOr(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s", msg)
}
