package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"companionai/internal/util"
	"companionai/pkg/domain"
	"companionai/pkg/storage"
)

const sniffLen = 512

// UploadImage stores a companion image and returns the reference to put in
// the companion's src field.
func (a *App) UploadImage(ctx context.Context, caller domain.Caller, r io.Reader, size int64) (string, error) {
	if !caller.Authenticated() {
		return "", ErrUnauthorized
	}
	if a.objects == nil {
		return "", ErrUploadsDisabled
	}
	if size > a.maxUploadBytes {
		return "", ErrImageTooLarge
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read image: %w", err)
	}
	head = head[:n]
	contentType, ext, ok := storage.DetectImage(head)
	if !ok {
		return "", ErrUnsupportedImage
	}
	if size <= 0 {
		// Unknown length: buffer up to the cap so PutObject gets an exact size.
		rest, err := io.ReadAll(io.LimitReader(r, a.maxUploadBytes-int64(n)+1))
		if err != nil {
			return "", fmt.Errorf("read image: %w", err)
		}
		size = int64(n + len(rest))
		if size > a.maxUploadBytes {
			return "", ErrImageTooLarge
		}
		r = bytes.NewReader(rest)
	}
	key := storage.ImageKey(util.NewID(), ext)
	if err := a.objects.Put(ctx, key, io.MultiReader(bytes.NewReader(head), r), size, contentType); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	src, err := a.imageURL(ctx, key)
	if err != nil {
		_ = a.objects.Delete(ctx, key)
		return "", err
	}
	util.LoggerFromContext(ctx).Info("image uploaded", "key", key, "bytes", size, "content_type", contentType)
	return src, nil
}

func (a *App) imageURL(ctx context.Context, key string) (string, error) {
	if a.publicBaseURL != "" {
		return storage.PublicURL(a.publicBaseURL, key), nil
	}
	src, err := a.objects.PresignGet(ctx, key, a.presignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign image: %w", err)
	}
	return src, nil
}

// objectKey maps a src produced by UploadImage back to its object key.
// Presigned URLs are not mapped back.
func (a *App) objectKey(src string) (string, bool) {
	if a.publicBaseURL == "" {
		return "", false
	}
	prefix := strings.TrimRight(a.publicBaseURL, "/") + "/"
	key, ok := strings.CutPrefix(src, prefix)
	if !ok || !strings.HasPrefix(key, "companions/") {
		return "", false
	}
	return key, true
}
