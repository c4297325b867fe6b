package backend

import (
	"net/url"
	"path"
	"strings"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".webm": true,
	".avi":  true,
}

// IsVideoURL classifies a media URL as video by extension. Query strings and
// fragments are ignored.
func IsVideoURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	return videoExtensions[ext]
}
