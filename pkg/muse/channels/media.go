package channels

import (
	"path/filepath"
	"strings"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// MediaType classifies an attachment. Images are matched by file extension
// and audio by content type; every other attachment is a document.
func MediaType(filename, contentType string) MessageType {
	switch {
	case imageExts[strings.ToLower(filepath.Ext(filename))]:
		return MessageImage
	case strings.Contains(strings.ToLower(contentType), "audio"):
		return MessageAudio
	default:
		return MessageDocument
	}
}
