package channels

import "testing"

func TestMediaType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		filename    string
		contentType string
		want        MessageType
	}{
		{"photo.PNG", "image/png", MessageImage},
		{"a.jpeg", "", MessageImage},
		{"a.jpg", "application/octet-stream", MessageImage},
		{"a.webp", "image/webp", MessageDocument},
		{"cat.gif", "image/gif", MessageDocument},
		{"voice.ogg", "audio/ogg", MessageAudio},
		{"clip", "AUDIO/MPEG", MessageAudio},
		{"report.pdf", "application/pdf", MessageDocument},
		{"tool.exe", "application/x-msdownload", MessageDocument},
		{"", "", MessageDocument},
	}
	for _, tt := range tests {
		if got := MediaType(tt.filename, tt.contentType); got != tt.want {
			t.Errorf("MediaType(%q, %q) = %s, want %s", tt.filename, tt.contentType, got, tt.want)
		}
	}
}
