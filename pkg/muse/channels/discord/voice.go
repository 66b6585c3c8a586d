package discord

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/muse/pkg/muse/channels"
)

const voiceFilename = "voice-message.ogg"

type uploadSlot struct {
	ID             string `json:"id"`
	UploadURL      string `json:"upload_url"`
	UploadFilename string `json:"upload_filename"`
}

// SendVoice posts audio as a native Discord voice message. discordgo has no
// API for it, so the attachments endpoint is driven directly: request an
// upload slot, PUT the bytes, then create the message with the voice flag.
func (d *Discord) SendVoice(ctx context.Context, to string, voice *channels.VoiceMessage) error {
	if d.getSession() == nil {
		return channels.ErrChannelDisconnected
	}
	if len(voice.Data) == 0 {
		return fmt.Errorf("discord: empty voice message")
	}

	slot, err := d.requestUpload(ctx, to, len(voice.Data))
	if err != nil {
		return err
	}

	mime := voice.MimeType
	if mime == "" {
		mime = "audio/ogg"
	}
	if err := d.putUpload(ctx, slot.UploadURL, mime, voice.Data); err != nil {
		return err
	}

	duration := voice.Duration
	if duration <= 0 {
		duration = estimateDuration(len(voice.Data), mime)
	}

	payload := map[string]any{
		"flags": int(discordgo.MessageFlagsIsVoiceMessage),
		"attachments": []map[string]any{{
			"id":                "0",
			"filename":          voiceFilename,
			"uploaded_filename": slot.UploadFilename,
			"duration_secs":     math.Ceil(duration.Seconds()),
			"waveform":          waveform(256),
		}},
	}
	if ref := d.reference(to, voice.ReplyTo); ref != nil {
		payload["message_reference"] = map[string]string{
			"message_id": ref.MessageID,
			"channel_id": ref.ChannelID,
		}
	}

	if _, err := d.doJSON(ctx, http.MethodPost, "/channels/"+to+"/messages", payload); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: create voice message: %w", err)
	}
	d.logger.Info("discord: voice message sent", "channel", to, "bytes", len(voice.Data))
	return nil
}

func (d *Discord) requestUpload(ctx context.Context, channelID string, size int) (*uploadSlot, error) {
	body, err := d.doJSON(ctx, http.MethodPost, "/channels/"+channelID+"/attachments", map[string]any{
		"files": []map[string]any{{"filename": voiceFilename, "file_size": size, "id": "0"}},
	})
	if err != nil {
		return nil, fmt.Errorf("discord: request upload slot: %w", err)
	}

	var out struct {
		Attachments []uploadSlot `json:"attachments"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("discord: decode upload slot: %w", err)
	}
	if len(out.Attachments) == 0 || out.Attachments[0].UploadURL == "" {
		return nil, fmt.Errorf("discord: no upload slot returned")
	}
	return &out.Attachments[0], nil
}

func (d *Discord) putUpload(ctx context.Context, url, mime string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("discord: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mime)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord: upload voice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: upload voice: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return nil
}

// doJSON performs an authenticated REST call and returns the response body.
func (d *Discord) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.APIBase+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// estimateDuration guesses the clip length from its size and encoding.
// Edge TTS emits 48 kbit/s MP3; Opus voice notes average about 32 kbit/s.
func estimateDuration(size int, mime string) time.Duration {
	bytesPerSec := 4000.0
	if strings.Contains(mime, "mpeg") || strings.Contains(mime, "mp3") {
		bytesPerSec = 6000.0
	}
	secs := math.Max(1, float64(size)/bytesPerSec)
	return time.Duration(secs * float64(time.Second))
}

// waveform returns a base64 encoded pseudo waveform. Discord only uses it
// for the preview bars.
func waveform(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rand.IntN(256))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
