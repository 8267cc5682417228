package filesystem

import (
	"mime"
	"path/filepath"
	"strings"
)

const DefaultMime = "application/octet-stream"

// Checked before the system table so results do not depend on the host's mime.types.
var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
	".svg":  "image/svg+xml",

	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",

	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",

	".txt":  "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".html": "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
}

// MimeFor guesses a content type from the file extension only.
func MimeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return DefaultMime
	}
	if ct, ok := mimeByExt[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if base, _, err := mime.ParseMediaType(ct); err == nil {
			return base
		}
		return ct
	}
	return DefaultMime
}

// MediaKind is the coarse category used to route previews and thumbnails.
type MediaKind int

const (
	KindOther MediaKind = iota
	KindImage
	KindHEIC
	KindVideo
	KindAudio
	KindText
)

func KindOf(name string) MediaKind {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".heic" || ext == ".heif" {
		return KindHEIC
	}
	return KindOfMime(MimeFor(name))
}

func KindOfMime(ct string) MediaKind {
	switch {
	case ct == "image/heic" || ct == "image/heif":
		return KindHEIC
	case ct == "image/svg+xml":
		return KindOther
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	case strings.HasPrefix(ct, "text/"), strings.HasSuffix(ct, "json"), strings.HasSuffix(ct, "xml"), strings.HasSuffix(ct, "yaml"):
		return KindText
	}
	return KindOther
}
