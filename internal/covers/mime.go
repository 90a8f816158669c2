package covers

import (
	"mime"
	"strings"
)

var allowedCoverTypes = []string{"image/png", "image/jpeg", "image/webp"}

// extensionsByType feeds the error message clients see for a rejected upload.
var extensionsByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// normalizeMimeType strips parameters and lowercases the media type.
func normalizeMimeType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.ToLower(value)
	}
	return strings.ToLower(mediaType)
}

func isAllowedMime(mimeType string) bool {
	for _, candidate := range allowedCoverTypes {
		if candidate == mimeType {
			return true
		}
	}
	return false
}

func allowedDescription() string {
	exts := make([]string, 0, len(allowedCoverTypes))
	for _, t := range allowedCoverTypes {
		exts = append(exts, extensionsByType[t])
	}
	return strings.Join(exts, ", ")
}
