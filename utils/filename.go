package utils

import (
	"regexp"
	"strings"
)

var (
	// Characters safe for a Content-Disposition filename
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9 _.-]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

const maxFilenameLength = 100

// SanitizeFilename strips a title down to header-safe characters. Aggressive
// on purpose: exotic titles must not reach the Content-Disposition header.
func SanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "")
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_ ")
	if len(name) > maxFilenameLength {
		name = strings.Trim(name[:maxFilenameLength], "_ ")
	}
	if name == "" {
		return "download"
	}
	return name
}

// ContentTypeFromExt returns the MIME type for a container extension
func ContentTypeFromExt(ext string) string {
	switch ext {
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "aac":
		return "audio/aac"
	case "ogg":
		return "audio/ogg"
	case "opus":
		return "audio/opus"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
