package storage

import (
	"net/http"
	"path"
	"strings"
)

// DefaultMaxImageBytes caps companion image uploads.
const DefaultMaxImageBytes int64 = 4 << 20

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// DetectImage sniffs the leading bytes of an upload and returns its content
// type and file extension. ok is false for anything but png, jpeg, webp or gif.
func DetectImage(head []byte) (contentType, ext string, ok bool) {
	contentType = http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok = imageExtensions[contentType]
	if !ok {
		return "", "", false
	}
	return contentType, ext, true
}

// ImageKey builds the object key for a companion image.
func ImageKey(id, ext string) string {
	return path.Join("companions", id+ext)
}

// PublicURL joins a public base URL and an object key.
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}
