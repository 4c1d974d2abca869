package media

import (
	"path"
	"regexp"
	"strings"
)

const defaultMIME = "application/octet-stream"

var mimeByExt = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
}

var extByMIME = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/mp4":       ".m4a",
	"audio/aac":       ".aac",
	"audio/ogg":       ".ogg",
}

var (
	videoName = regexp.MustCompile(`(?i)\.(mp4|webm|mov)$`)
	audioName = regexp.MustCompile(`(?i)\.(mp3|wav|m4a|aac|ogg)$`)
)

// DetectMIME maps a file name to its media type by extension.
func DetectMIME(name string) string {
	if m, ok := mimeByExt[strings.ToLower(path.Ext(name))]; ok {
		return m
	}
	return defaultMIME
}

// ExtensionFor returns the file extension for a media type, or fallback.
func ExtensionFor(mimeType, fallback string) string {
	if ext, ok := extByMIME[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return ext
	}
	return fallback
}

// IsVideoFile and IsAudioFile decide which bucket objects the storage watcher picks up.
func IsVideoFile(name string) bool { return videoName.MatchString(name) }

func IsAudioFile(name string) bool { return audioName.MatchString(name) }

// IsMediaFile reports whether name is a video or audio file.
func IsMediaFile(name string) bool { return IsVideoFile(name) || IsAudioFile(name) }

func IsVideoMIME(mimeType string) bool { return strings.HasPrefix(mimeType, "video/") }

func IsAudioMIME(mimeType string) bool { return strings.HasPrefix(mimeType, "audio/") }

func videoExt(mimeType string) string {
	switch mimeType {
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ".mp4"
	}
}
