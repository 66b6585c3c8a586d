package dispatch

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jholhewres/muse/pkg/muse/channels"
)

// stage downloads the first attachment of msg into a uuid-named file under
// the media directory. The caller removes the file.
func stage(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage, mediaDir string) (*Attachment, error) {
	mc, ok := ch.(channels.MediaChannel)
	if !ok {
		return nil, channels.ErrMediaNotSupported
	}
	data, mimeType, err := mc.DownloadMedia(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}

	dir := filepath.Join(mediaDir, "in")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	filename := msg.Media.Filename
	if mimeType == "" {
		mimeType = msg.Media.MimeType
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			ext = exts[0]
		}
	}

	path := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("staging attachment: %w", err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	return &Attachment{Path: path, Filename: filename, MimeType: mimeType}, nil
}
