package media

import (
	"path/filepath"
	"strings"
)

// Kind classifies a media file by extension.
type Kind string

const (
	KindVideo   Kind = "video"
	KindImage   Kind = "image"
	KindUnknown Kind = ""
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".m4v": true, ".avi": true,
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
}

// KindOf returns the media kind of path.
func KindOf(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return KindVideo
	case imageExtensions[ext]:
		return KindImage
	default:
		return KindUnknown
	}
}
